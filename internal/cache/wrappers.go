package cache

// Category-specific convenience wrappers. Each pins the category and
// argument order for a particular domain entity, using that category's
// default TTL (ttl<=0 in Set).

// GetGuildData retrieves guild-scoped data of dataType for guildID.
func (c *Cache) GetGuildData(guildID int64, dataType string) (any, bool) {
	return c.Get(CategoryGuildData, guildID, dataType)
}

// SetGuildData caches guild-scoped data of dataType for guildID.
func (c *Cache) SetGuildData(guildID int64, dataType string, value any) {
	c.Set(CategoryGuildData, value, 0, guildID, dataType)
}

// DeleteGuildData removes guild-scoped data of dataType for guildID.
func (c *Cache) DeleteGuildData(guildID int64, dataType string) bool {
	return c.Delete(CategoryGuildData, guildID, dataType)
}

// GetUserData retrieves per-user data of dataType within a guild.
func (c *Cache) GetUserData(guildID, userID int64, dataType string) (any, bool) {
	return c.Get(CategoryUserData, guildID, userID, dataType)
}

// SetUserData caches per-user data of dataType within a guild.
func (c *Cache) SetUserData(guildID, userID int64, dataType string, value any) {
	c.Set(CategoryUserData, value, 0, guildID, userID, dataType)
}

// GetGuildMembers retrieves the cached roster for a guild.
func (c *Cache) GetGuildMembers(guildID int64) (any, bool) {
	return c.Get(CategoryRosterData, guildID, "members")
}

// SetGuildMembers caches a guild's roster and cascades invalidation to
// every category that depends on roster_data (events_data by default).
func (c *Cache) SetGuildMembers(guildID int64, membersData any) {
	c.Set(CategoryRosterData, membersData, 0, guildID, "members")
	c.InvalidateRelated(CategoryRosterData)
}

// GetEventData retrieves cached event data for a guild. An empty
// eventType means "all".
func (c *Cache) GetEventData(guildID int64, eventType string) (any, bool) {
	if eventType == "" {
		eventType = "all"
	}
	return c.Get(CategoryEventsData, guildID, eventType)
}

// SetEventData caches event data of eventType for a guild.
func (c *Cache) SetEventData(guildID int64, eventType string, data any) {
	c.Set(CategoryEventsData, data, 0, guildID, eventType)
}

// GetStaticData retrieves static configuration data, optionally scoped to
// a game. gameID of 0 means "not game-specific".
func (c *Cache) GetStaticData(dataType string, gameID int64) (any, bool) {
	return c.Get(CategoryStaticData, dataType, gameID)
}

// SetStaticData caches static configuration data, optionally scoped to a
// game. gameID of 0 means "not game-specific".
func (c *Cache) SetStaticData(dataType string, value any, gameID int64) {
	c.Set(CategoryStaticData, value, 0, dataType, gameID)
}
