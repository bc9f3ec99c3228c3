package mesh

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/meshkeeper/meshkeeper/internal/domain"
)

// Settings keys shared with the REST surface. Behavior toggles live in
// the settings table so they can change without a restart.
const (
	SettingLocalNodeNum             = "localNodeNum"
	SettingLocalNodeID              = "localNodeId"
	SettingAutoAnnounceEnabled      = "autoAnnounceEnabled"
	SettingAutoAnnounceUseSchedule  = "autoAnnounceUseSchedule"
	SettingAutoAnnounceSchedule     = "autoAnnounceSchedule"
	SettingAutoAnnounceInterval     = "autoAnnounceIntervalHours"
	SettingAutoAnnounceMessage      = "autoAnnounceMessage"
	SettingAutoAnnounceChannelIndex = "autoAnnounceChannelIndex"
	SettingAutoAnnounceOnStart      = "autoAnnounceOnStart"
	SettingLastAnnouncementTime     = "lastAnnouncementTime"
	SettingAutoAckEnabled           = "autoAckEnabled"
	SettingAutoAckRegex             = "autoAckRegex"
	SettingAutoAckChannels          = "autoAckChannels"
	SettingAutoAckDirectMessages    = "autoAckDirectMessages"
	SettingAutoAckMessage           = "autoAckMessage"
	SettingAutoAckUseDM             = "autoAckUseDM"
	SettingAutoWelcomeEnabled       = "autoWelcomeEnabled"
	SettingAutoWelcomeWaitForName   = "autoWelcomeWaitForName"
	SettingAutoWelcomeMessage       = "autoWelcomeMessage"
	SettingAutoWelcomeTarget        = "autoWelcomeTarget"
	SettingTracerouteInterval       = "tracerouteIntervalMinutes"
	SettingMaxNodeAgeHours          = "maxNodeAgeHours"
	SettingDistanceUnit             = "distanceUnit"
	SettingTimezone                 = "timezone"
)

const (
	defaultMaxNodeAgeHours = 24
	defaultAutoAckMessage  = "🤖 Auto-reply: heard you {NODE_ID} ({NUMBER_HOPS} hops)"
	defaultWelcomeMessage  = "👋 Welcome to the mesh, {LONG_NAME}!"
	defaultAnnounceMessage = "📡 meshkeeper {VERSION} up {DURATION} · {NODECOUNT} nodes"
)

// Settings reads typed values out of the settings store, falling back
// to defaults on missing or malformed rows.
type Settings struct {
	repo domain.SettingsRepository
}

func NewSettings(repo domain.SettingsRepository) *Settings {
	return &Settings{repo: repo}
}

func (s *Settings) String(ctx context.Context, key, fallback string) string {
	value, ok, err := s.repo.Get(ctx, key)
	if err != nil || !ok {
		return fallback
	}

	return value
}

func (s *Settings) Bool(ctx context.Context, key string, fallback bool) bool {
	value, ok, err := s.repo.Get(ctx, key)
	if err != nil || !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}

	return parsed
}

func (s *Settings) Int(ctx context.Context, key string, fallback int) int {
	value, ok, err := s.repo.Get(ctx, key)
	if err != nil || !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}

	return parsed
}

func (s *Settings) Time(ctx context.Context, key string) (time.Time, bool) {
	value, ok, err := s.repo.Get(ctx, key)
	if err != nil || !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}

	return time.UnixMilli(ms), true
}

func (s *Settings) SetTime(ctx context.Context, key string, t time.Time) error {
	return s.repo.Set(ctx, key, strconv.FormatInt(t.UnixMilli(), 10))
}

func (s *Settings) Set(ctx context.Context, key, value string) error {
	return s.repo.Set(ctx, key, value)
}

// IntSet parses a comma-separated list of channel indices.
func (s *Settings) IntSet(ctx context.Context, key string) map[int]bool {
	out := make(map[int]bool)
	raw := s.String(ctx, key, "")
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		out[v] = true
	}

	return out
}

func (s *Settings) MaxNodeAge(ctx context.Context) time.Duration {
	hours := s.Int(ctx, SettingMaxNodeAgeHours, defaultMaxNodeAgeHours)
	if hours <= 0 {
		hours = defaultMaxNodeAgeHours
	}

	return time.Duration(hours) * time.Hour
}

// Location resolves the configured timezone, defaulting to the host's
// local zone when unset or unparsable.
func (s *Settings) Location(ctx context.Context) *time.Location {
	name := s.String(ctx, SettingTimezone, "")
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}

	return loc
}

// DistanceUnit is "km" unless explicitly set to "mi".
func (s *Settings) DistanceUnit(ctx context.Context) string {
	if s.String(ctx, SettingDistanceUnit, "km") == "mi" {
		return "mi"
	}

	return "km"
}
