package cacheloader

import (
	"context"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/guildforge/backbone/internal/dbstore"
)

// queryAll is the shared fetch-all helper every per-category loader uses,
// so each loader body reads as "query, scan, store" without repeating the
// dbstore plumbing. Callers must Close the result once done scanning.
func (l *Loader) queryAll(ctx context.Context, query string, args ...any) (*dbstore.QueryResult, error) {
	return l.db.RunQuery(ctx, query, args, dbstore.ModeFetchAll)
}

func (l *Loader) loadGuildSettings(ctx context.Context) (int, error) {
	res, err := l.queryAll(ctx, `SELECT guild_id, guild_ptb, guild_lang, guild_name, guild_game, guild_server, initialized, premium FROM guild_settings`)
	if err != nil {
		return 0, err
	}
	defer res.Close()
	rows := res.Rows

	count := 0
	for rows.Next() {
		var s GuildSettings
		if err := rows.Scan(&s.GuildID, &s.PTB, &s.Lang, &s.Name, &s.Game, &s.Server, &s.Initialized, &s.Premium); err != nil {
			return count, err
		}
		l.cache.SetGuildData(s.GuildID, "settings", &s)
		l.cache.SetGuildData(s.GuildID, "guild_lang", s.Lang)
		count++
	}
	return count, rows.Err()
}

func (l *Loader) loadGuildRoles(ctx context.Context) (int, error) {
	res, err := l.queryAll(ctx, `SELECT guild_id, guild_master, officer, guardian, members, absent_members, allies, diplomats, friends, applicant, config_ok, rules_ok FROM guild_roles`)
	if err != nil {
		return 0, err
	}
	defer res.Close()
	rows := res.Rows

	count := 0
	for rows.Next() {
		var r GuildRoles
		if err := rows.Scan(&r.GuildID, &r.GuildMaster,
			pq.Array(&r.Officer), pq.Array(&r.Guardian), pq.Array(&r.Members),
			pq.Array(&r.AbsentMembers), pq.Array(&r.Allies), pq.Array(&r.Diplomats),
			pq.Array(&r.Friends), pq.Array(&r.Applicant), &r.ConfigOK, &r.RulesOK); err != nil {
			return count, err
		}
		l.cache.SetGuildData(r.GuildID, "roles", &r)
		count++
	}
	return count, rows.Err()
}

func (l *Loader) loadGuildChannels(ctx context.Context) (int, error) {
	res, err := l.queryAll(ctx, `SELECT guild_id, rules_channel, rules_message, announcements_channel, voice_tavern_channel,
		voice_war_channel, create_room_channel, events_channel, members_channel,
		members_m1, members_m2, members_m3, members_m4, members_m5,
		groups_channel, statics_channel, statics_message, abs_channel, loot_channel, loot_message, tuto_channel,
		forum_allies_channel, forum_friends_channel, forum_diplomats_channel, forum_recruitment_channel,
		forum_members_channel, notifications_channel, external_recruitment_cat, category_diplomat,
		external_recruitment_channel, external_recruitment_message FROM guild_channels`)
	if err != nil {
		return 0, err
	}
	defer res.Close()
	rows := res.Rows

	count := 0
	for rows.Next() {
		var c GuildChannels
		if err := rows.Scan(&c.GuildID, &c.Rules, &c.RulesMessage, &c.Announcements, &c.VoiceTavern,
			&c.VoiceWar, &c.CreateRoom, &c.Events, &c.Members,
			&c.MembersOverflow[0], &c.MembersOverflow[1], &c.MembersOverflow[2], &c.MembersOverflow[3], &c.MembersOverflow[4],
			&c.Groups, &c.Statics, &c.StaticsMessage, &c.Abs, &c.Loot, &c.LootMessage, &c.Tuto,
			&c.ForumAllies, &c.ForumFriends, &c.ForumDiplomats, &c.ForumRecruitment,
			&c.ForumMembers, &c.Notifications, &c.ExternalRecruitmentCat, &c.CategoryDiplomat,
			&c.ExternalRecruitmentChannel, &c.ExternalRecruitmentMessage); err != nil {
			return count, err
		}
		// Aggregate entry plus individually addressable fields.
		l.cache.Set("discord_entities", &c, 0, c.GuildID, "channels")
		l.cache.Set("discord_entities", c.Events, 0, c.GuildID, "events_channel")
		l.cache.Set("discord_entities", c.Announcements, 0, c.GuildID, "announcements_channel")
		l.cache.Set("discord_entities", c.Members, 0, c.GuildID, "members_channel")
		count++
	}
	return count, rows.Err()
}

func (l *Loader) loadWelcomeMessages(ctx context.Context) (int, error) {
	res, err := l.queryAll(ctx, `SELECT guild_id, member_id, channel_id, message_id FROM welcome_messages`)
	if err != nil {
		return 0, err
	}
	defer res.Close()
	rows := res.Rows

	count := 0
	for rows.Next() {
		var w WelcomeMessage
		if err := rows.Scan(&w.GuildID, &w.MemberID, &w.ChannelID, &w.MessageID); err != nil {
			return count, err
		}
		l.cache.Set("user_data", &w, 0, w.GuildID, w.MemberID, "welcome_message")
		count++
	}
	return count, rows.Err()
}

// loadAbsenceMessagesMarker exists because absence_messages is managed
// live by a feature module, not bulk-loaded; it only marks the category
// loaded.
func (l *Loader) loadAbsenceMessagesMarker(ctx context.Context) (int, error) {
	return 0, nil
}

func (l *Loader) loadGuildMembers(ctx context.Context) (int, error) {
	res, err := l.queryAll(ctx, `SELECT guild_id, member_id, username, language, class, GS, build, weapons, DKP, nb_events, registrations, attendances FROM guild_members`)
	if err != nil {
		return 0, err
	}
	defer res.Close()
	rows := res.Rows

	members := make(map[int64][]*GuildMember)
	count := 0
	for rows.Next() {
		var m GuildMember
		var dkp string
		if err := rows.Scan(&m.GuildID, &m.MemberID, &m.Username, &m.Language, &m.Class, &m.GS, &m.Build,
			pq.Array(&m.Weapons), &dkp, &m.NbEvents, &m.Registrations, &m.Attendances); err != nil {
			return count, err
		}
		parsed, err := decimal.NewFromString(dkp)
		if err == nil {
			m.DKP = parsed
		}
		members[m.GuildID] = append(members[m.GuildID], &m)
		l.cache.SetUserData(m.GuildID, m.MemberID, "member", &m)
		count++
	}
	if err := rows.Err(); err != nil {
		return count, err
	}

	for guildID, roster := range members {
		l.cache.SetGuildMembers(guildID, roster)
	}
	return count, nil
}

func (l *Loader) loadEventsData(ctx context.Context) (int, error) {
	res, err := l.queryAll(ctx, `SELECT guild_id, event_id, name, event_date, event_time, duration, dkp_value, dkp_ins, status, registrations, actual_presence FROM events_data`)
	if err != nil {
		return 0, err
	}
	defer res.Close()
	rows := res.Rows

	count := 0
	for rows.Next() {
		var e EventRow
		var dkpValue, dkpIns string
		if err := rows.Scan(&e.GuildID, &e.EventID, &e.Name, &e.EventDate, &e.EventTime, &e.Duration,
			&dkpValue, &dkpIns, &e.Status, &e.Registrations, &e.ActualPresence); err != nil {
			return count, err
		}
		e.DKPValue, _ = decimal.NewFromString(dkpValue)
		e.DKPIns, _ = decimal.NewFromString(dkpIns)
		l.cache.SetEventData(e.GuildID, "all", &e)
		l.cache.Set("events_data", &e, 0, e.GuildID, e.EventID)
		count++
	}
	return count, rows.Err()
}

func (l *Loader) loadStaticData(ctx context.Context) (int, error) {
	// static_data has no single backing table of its own: weapons,
	// games_list, epic_items_t2, and events_calendar already populate the
	// static tables through their own loaders, so this only marks the
	// category loaded.
	return 0, nil
}

func (l *Loader) loadStaticGroups(ctx context.Context) (int, error) {
	res, err := l.queryAll(ctx, `SELECT id, guild_id, group_name, leader_id, is_active FROM guild_static_groups`)
	if err != nil {
		return 0, err
	}
	defer res.Close()
	rows := res.Rows

	count := 0
	for rows.Next() {
		var g StaticGroup
		if err := rows.Scan(&g.ID, &g.GuildID, &g.GroupName, &g.LeaderID, &g.Active); err != nil {
			return count, err
		}

		memberRes, err := l.queryAll(ctx, `SELECT group_id, member_id, position_order FROM guild_static_members WHERE group_id = $1`, g.ID)
		if err == nil {
			var members []StaticMember
			for memberRes.Rows.Next() {
				var m StaticMember
				if scanErr := memberRes.Rows.Scan(&m.GroupID, &m.MemberID, &m.PositionOrder); scanErr == nil {
					members = append(members, m)
				}
			}
			memberRes.Close()
			l.cache.Set("static_data", members, 0, "static_group_members", g.ID)
		}

		l.cache.SetStaticData("static_group", &g, g.GuildID)
		count++
	}
	return count, rows.Err()
}

func (l *Loader) loadUserSetup(ctx context.Context) (int, error) {
	res, err := l.queryAll(ctx, `SELECT guild_id, user_id, locale, gs, weapons FROM user_setup`)
	if err != nil {
		return 0, err
	}
	defer res.Close()
	rows := res.Rows

	count := 0
	for rows.Next() {
		var u UserSetup
		if err := rows.Scan(&u.GuildID, &u.UserID, &u.Locale, &u.GS, pq.Array(&u.Weapons)); err != nil {
			return count, err
		}
		l.cache.SetUserData(u.GuildID, u.UserID, "setup", &u)
		count++
	}
	return count, rows.Err()
}

func (l *Loader) loadWeapons(ctx context.Context) (int, error) {
	res, err := l.queryAll(ctx, `SELECT game_id, code, name FROM weapons`)
	if err != nil {
		return 0, err
	}
	defer res.Close()
	rows := res.Rows

	byGame := make(map[int64][]*Weapon)
	count := 0
	for rows.Next() {
		var w Weapon
		if err := rows.Scan(&w.GameID, &w.Code, &w.Name); err != nil {
			return count, err
		}
		byGame[w.GameID] = append(byGame[w.GameID], &w)
		count++
	}
	if err := rows.Err(); err != nil {
		return count, err
	}
	for gameID, weapons := range byGame {
		l.cache.SetStaticData("weapons", weapons, gameID)
	}
	return count, nil
}

func (l *Loader) loadWeaponsCombinations(ctx context.Context) (int, error) {
	res, err := l.queryAll(ctx, `SELECT game_id, role, weapon1, weapon2 FROM weapons_combinations`)
	if err != nil {
		return 0, err
	}
	defer res.Close()
	rows := res.Rows

	byGame := make(map[int64][]*WeaponCombination)
	count := 0
	for rows.Next() {
		var w WeaponCombination
		if err := rows.Scan(&w.GameID, &w.Role, &w.Weapon1, &w.Weapon2); err != nil {
			return count, err
		}
		byGame[w.GameID] = append(byGame[w.GameID], &w)
		count++
	}
	if err := rows.Err(); err != nil {
		return count, err
	}
	for gameID, combos := range byGame {
		l.cache.SetStaticData("weapons_combinations", combos, gameID)
	}
	return count, nil
}

func (l *Loader) loadGuildIdealStaff(ctx context.Context) (int, error) {
	res, err := l.queryAll(ctx, `SELECT guild_id, class_name, ideal_count FROM guild_ideal_staff`)
	if err != nil {
		return 0, err
	}
	defer res.Close()
	rows := res.Rows

	byGuild := make(map[int64][]*GuildIdealStaff)
	count := 0
	for rows.Next() {
		var s GuildIdealStaff
		if err := rows.Scan(&s.GuildID, &s.ClassName, &s.IdealCount); err != nil {
			return count, err
		}
		byGuild[s.GuildID] = append(byGuild[s.GuildID], &s)
		count++
	}
	if err := rows.Err(); err != nil {
		return count, err
	}
	for guildID, staff := range byGuild {
		l.cache.SetGuildData(guildID, "ideal_staff", staff)
	}
	return count, nil
}

func (l *Loader) loadGamesList(ctx context.Context) (int, error) {
	res, err := l.queryAll(ctx, `SELECT id, game_name, max_members FROM games_list`)
	if err != nil {
		return 0, err
	}
	defer res.Close()
	rows := res.Rows

	var games []*Game
	count := 0
	for rows.Next() {
		var g Game
		if err := rows.Scan(&g.ID, &g.Name, &g.MaxMembers); err != nil {
			return count, err
		}
		games = append(games, &g)
		count++
	}
	if err := rows.Err(); err != nil {
		return count, err
	}
	l.cache.SetStaticData("games_list", games, 0)
	return count, nil
}

func (l *Loader) loadEpicItemsT2(ctx context.Context) (int, error) {
	res, err := l.queryAll(ctx, `SELECT item_id, item_type, item_category, item_name_en, item_name_fr, item_name_es, item_name_de, item_url, item_icon_url FROM epic_items_t2`)
	if err != nil {
		return 0, err
	}
	defer res.Close()
	rows := res.Rows

	var items []*EpicItem
	count := 0
	for rows.Next() {
		var it EpicItem
		if err := rows.Scan(&it.ItemID, &it.Type, &it.Category, &it.NameEN, &it.NameFR, &it.NameES, &it.NameDE, &it.URL, &it.IconURL); err != nil {
			return count, err
		}
		items = append(items, &it)
		l.cache.Set("static_data", &it, 0, "epic_item", it.ItemID)
		count++
	}
	if err := rows.Err(); err != nil {
		return count, err
	}
	l.cache.SetStaticData("epic_items_t2", items, 0)
	return count, nil
}

func (l *Loader) loadEventsCalendar(ctx context.Context) (int, error) {
	res, err := l.queryAll(ctx, `SELECT game_id, id, name, day, time, duration, week, dkp_value, dkp_ins FROM events_calendar`)
	if err != nil {
		return 0, err
	}
	defer res.Close()
	rows := res.Rows

	byGame := make(map[int64][]*CalendarEvent)
	count := 0
	for rows.Next() {
		var c CalendarEvent
		var dkpValue, dkpIns string
		if err := rows.Scan(&c.GameID, &c.ID, &c.Name, &c.Day, &c.Time, &c.Duration, &c.Week, &dkpValue, &dkpIns); err != nil {
			return count, err
		}
		c.DKPValue, _ = decimal.NewFromString(dkpValue)
		c.DKPIns, _ = decimal.NewFromString(dkpIns)
		byGame[c.GameID] = append(byGame[c.GameID], &c)
		count++
	}
	if err := rows.Err(); err != nil {
		return count, err
	}
	for gameID, calendar := range byGame {
		l.cache.SetStaticData("events_calendar", calendar, gameID)
	}
	return count, nil
}

func (l *Loader) loadGuildPTBSettings(ctx context.Context) (int, error) {
	res, err := l.queryAll(ctx, `SELECT guild_id, ptb_guild_id, info_channel_id,
		g1_role_id, g2_role_id, g3_role_id, g4_role_id, g5_role_id, g6_role_id,
		g7_role_id, g8_role_id, g9_role_id, g10_role_id, g11_role_id, g12_role_id,
		g1_channel_id, g2_channel_id, g3_channel_id, g4_channel_id, g5_channel_id, g6_channel_id,
		g7_channel_id, g8_channel_id, g9_channel_id, g10_channel_id, g11_channel_id, g12_channel_id
		FROM guild_ptb_settings`)
	if err != nil {
		return 0, err
	}
	defer res.Close()
	rows := res.Rows

	count := 0
	for rows.Next() {
		var p GuildPTBSettings
		dest := []any{&p.GuildID, &p.PTBGuildID, &p.InfoChannelID}
		for i := range p.RoleIDs {
			dest = append(dest, &p.RoleIDs[i])
		}
		for i := range p.ChannelIDs {
			dest = append(dest, &p.ChannelIDs[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return count, err
		}
		l.cache.SetGuildData(p.GuildID, "ptb_settings", &p)
		for i, roleID := range p.RoleIDs {
			l.cache.Set("discord_entities", roleID, 0, p.GuildID, "ptb_group_role", i+1)
		}
		count++
	}
	return count, rows.Err()
}
