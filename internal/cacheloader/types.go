// Package cacheloader implements the bulk cache warm-up run once at
// startup plus per-category reloads. Each per-category loader reads rows
// through dbstore and writes them into the cache via the category-scoped
// wrappers.
package cacheloader

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Row structs mirror the SQL schema; field names follow the columns.

type GuildSettings struct {
	GuildID     int64
	PTB         bool
	Initialized bool
	Premium     bool
	Lang        string
	Name        string
	Game        string
	Server      string
}

type GuildRoles struct {
	GuildID       int64
	GuildMaster   int64
	Officer       []int64
	Guardian      []int64
	Members       []int64
	AbsentMembers []int64
	Allies        []int64
	Diplomats     []int64
	Friends       []int64
	Applicant     []int64
	ConfigOK      bool
	RulesOK       bool
}

type GuildChannels struct {
	GuildID                    int64
	Rules                      int64
	RulesMessage               int64
	Announcements              int64
	VoiceTavern                int64
	VoiceWar                   int64
	CreateRoom                 int64
	Events                     int64
	Members                    int64
	MembersOverflow            [5]int64
	Groups                     int64
	Statics                    int64
	StaticsMessage             int64
	Abs                        int64
	Loot                       int64
	LootMessage                int64
	Tuto                       int64
	ForumAllies                int64
	ForumFriends               int64
	ForumDiplomats             int64
	ForumRecruitment           int64
	ForumMembers               int64
	Notifications              int64
	ExternalRecruitmentCat     int64
	CategoryDiplomat           int64
	ExternalRecruitmentChannel int64
	ExternalRecruitmentMessage int64
}

type WelcomeMessage struct {
	GuildID   int64
	MemberID  int64
	ChannelID int64
	MessageID int64
}

type GuildMember struct {
	GuildID       int64
	MemberID      int64
	Username      string
	Language      string
	Class         string
	GS            int
	Build         string
	Weapons       []string
	DKP           decimal.Decimal
	NbEvents      int
	Registrations int
	Attendances   int
}

type EventRow struct {
	GuildID         int64
	EventID         int64
	Name            string
	EventDate       string
	EventTime       string
	Duration        int
	DKPValue        decimal.Decimal
	DKPIns          decimal.Decimal
	Status          string
	Registrations   json.RawMessage
	ActualPresence  json.RawMessage
}

type UserSetup struct {
	GuildID int64
	UserID  int64
	Locale  string
	GS      int
	Weapons []string
}

type GuildPTBSettings struct {
	GuildID       int64
	PTBGuildID    int64
	InfoChannelID int64
	RoleIDs       [12]int64
	ChannelIDs    [12]int64
}

type Weapon struct {
	GameID int64
	Code   string
	Name   string
}

type WeaponCombination struct {
	GameID  int64
	Role    string
	Weapon1 string
	Weapon2 string
}

type Game struct {
	ID         int64
	Name       string
	MaxMembers int
}

type CalendarEvent struct {
	GameID   int64
	ID       int64
	Name     string
	Day      string
	Time     string
	Duration int
	Week     int
	DKPValue decimal.Decimal
	DKPIns   decimal.Decimal
}

type EpicItem struct {
	ItemID   string
	Type     string
	Category string
	NameEN   string
	NameFR   string
	NameES   string
	NameDE   string
	URL      string
	IconURL  string
}

type GuildIdealStaff struct {
	GuildID    int64
	ClassName  string
	IdealCount int
}

type StaticGroup struct {
	ID        int64
	GuildID   int64
	GroupName string
	LeaderID  int64
	Active    bool
}

type StaticMember struct {
	GroupID       int64
	MemberID      int64
	PositionOrder int
}

type ScrapingHistoryEntry struct {
	ItemsScraped         int
	ItemsAdded           int
	ItemsUpdated         int
	ItemsDeleted         int
	Status               string
	ExecutionTimeSeconds float64
	ErrorMessage         *string
}
