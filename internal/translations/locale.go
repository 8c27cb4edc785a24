package translations

// GetMessage resolves a localized message for key. Resolving a user's or
// guild's locale from the chat platform is a feature-module concern, so
// callers pass the already-resolved locale. On any lookup failure this
// returns an empty string; the caller is responsible for logging.
func (c *Catalog) GetMessage(key, locale string, params map[string]any) string {
	msg, ok := c.Lookup(key, locale, params)
	if !ok {
		return ""
	}
	return msg
}

// ResolveEffectiveLocale picks the first non-empty locale among member
// language, user-setup locale, and guild language, falling back to en-US
// and normalizing a bare "en" to "en-US" at each step.
func ResolveEffectiveLocale(memberLanguage, userSetupLocale, guildLanguage string) string {
	for _, candidate := range []string{memberLanguage, userSetupLocale, guildLanguage} {
		if candidate == "" {
			continue
		}
		return NormalizeLocale(candidate)
	}
	return defaultLocale
}
