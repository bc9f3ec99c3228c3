package mesh

import (
	"strings"
	"sync"

	generated "github.com/rabarar/meshtastic"

	"github.com/meshkeeper/meshkeeper/internal/domain"
)

// LocalNode is the authoritative in-memory record of the radio this
// process is connected to.
type LocalNode struct {
	Num             uint32
	ID              string
	LongName        string
	ShortName       string
	HwModel         string
	FirmwareVersion string
	RebootCount     uint32
	// IsLocked becomes true once real names are known; afterwards only
	// firmware version and reboot count stay mutable.
	IsLocked bool
}

type favoritesSupport int

const (
	favoritesUnknown favoritesSupport = iota
	favoritesYes
	favoritesNo
)

// DeviceState accumulates the local node identity and the two merged
// config bags across the init stream and later get_config responses.
type DeviceState struct {
	mu       sync.RWMutex
	local    LocalNode
	hasLocal bool

	deviceConfigs map[string]*generated.Config
	moduleConfigs map[string]*generated.ModuleConfig

	favorites favoritesSupport
}

func NewDeviceState() *DeviceState {
	return &DeviceState{
		deviceConfigs: make(map[string]*generated.Config),
		moduleConfigs: make(map[string]*generated.ModuleConfig),
	}
}

// Local returns a copy of the local node record and whether one exists.
func (s *DeviceState) Local() (LocalNode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.local, s.hasLocal
}

func (s *DeviceState) LocalNum() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.local.Num
}

// ProcessMyNodeInfo seeds the local node from the first MyNodeInfo.
// When the store already holds a real long name for this node it is
// adopted immediately and the record locks.
func (s *DeviceState) ProcessMyNodeInfo(mi *generated.MyNodeInfo, stored *domain.Node) {
	if mi == nil || mi.GetMyNodeNum() == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasLocal {
		s.local = LocalNode{
			Num: mi.GetMyNodeNum(),
			ID:  domain.FormatNodeNum(mi.GetMyNodeNum()),
		}
		s.hasLocal = true
	}
	s.local.RebootCount = mi.GetRebootCount()

	if s.local.IsLocked || stored == nil {
		return
	}
	long := strings.TrimSpace(stored.LongName)
	if long != "" && !strings.HasPrefix(long, domain.PlaceholderNamePrefix) {
		s.local.LongName = long
		s.local.ShortName = strings.TrimSpace(stored.ShortName)
		s.local.HwModel = stored.HwModel
		s.local.IsLocked = true
	}
}

// AdoptNames fills names from a NodeInfo matching the local node and
// locks the record. No-op once locked.
func (s *DeviceState) AdoptNames(longName, shortName, hwModel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasLocal || s.local.IsLocked {
		return
	}
	longName = strings.TrimSpace(longName)
	if longName == "" {
		return
	}
	s.local.LongName = longName
	s.local.ShortName = strings.TrimSpace(shortName)
	if hwModel != "" {
		s.local.HwModel = hwModel
	}
	s.local.IsLocked = true
}

// ProcessMetadata updates the firmware version (allowed even when
// locked) and invalidates the favorites capability cache.
func (s *DeviceState) ProcessMetadata(md *generated.DeviceMetadata) {
	if md == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if fw := strings.TrimSpace(md.GetFirmwareVersion()); fw != "" {
		s.local.FirmwareVersion = fw
	}
	s.favorites = favoritesUnknown
}

// InvalidateCapabilities drops cached capability answers. Called on
// disconnect.
func (s *DeviceState) InvalidateCapabilities() {
	s.mu.Lock()
	s.favorites = favoritesUnknown
	s.mu.Unlock()
}

// SupportsFavorites reports whether the connected firmware handles
// favorite-node admin messages. The answer is cached until the firmware
// version changes or the session drops.
func (s *DeviceState) SupportsFavorites() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.favorites != favoritesUnknown {
		return s.favorites == favoritesYes
	}
	v, err := ParseFirmwareVersion(s.local.FirmwareVersion)
	if err != nil {
		s.favorites = favoritesNo

		return false
	}
	if v.SupportsFavorites() {
		s.favorites = favoritesYes

		return true
	}
	s.favorites = favoritesNo

	return false
}

// MergeConfig performs the shallow key-wise merge: a sub-config is
// replaced only when the incoming message actually carries it, never
// cleared by absence.
func (s *DeviceState) MergeConfig(cfg *generated.Config) {
	tag := deviceConfigTag(cfg)
	if tag == "" {
		return
	}
	s.mu.Lock()
	s.deviceConfigs[tag] = cfg
	s.mu.Unlock()
}

// MergeModuleConfig is MergeConfig for the module config bag.
func (s *DeviceState) MergeModuleConfig(cfg *generated.ModuleConfig) {
	tag := moduleConfigTag(cfg)
	if tag == "" {
		return
	}
	s.mu.Lock()
	s.moduleConfigs[tag] = cfg
	s.mu.Unlock()
}

// DeviceConfig returns the merged device config bag keyed by variant
// tag. The map is a copy; the messages are shared.
func (s *DeviceState) DeviceConfig() map[string]*generated.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*generated.Config, len(s.deviceConfigs))
	for k, v := range s.deviceConfigs {
		out[k] = v
	}

	return out
}

func (s *DeviceState) ModuleConfig() map[string]*generated.ModuleConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*generated.ModuleConfig, len(s.moduleConfigs))
	for k, v := range s.moduleConfigs {
		out[k] = v
	}

	return out
}

func deviceConfigTag(cfg *generated.Config) string {
	if cfg == nil {
		return ""
	}
	switch cfg.GetPayloadVariant().(type) {
	case *generated.Config_Device:
		return "device"
	case *generated.Config_Position:
		return "position"
	case *generated.Config_Power:
		return "power"
	case *generated.Config_Network:
		return "network"
	case *generated.Config_Display:
		return "display"
	case *generated.Config_Lora:
		return "lora"
	case *generated.Config_Bluetooth:
		return "bluetooth"
	case *generated.Config_Security:
		return "security"
	default:
		return ""
	}
}

func moduleConfigTag(cfg *generated.ModuleConfig) string {
	if cfg == nil {
		return ""
	}
	switch cfg.GetPayloadVariant().(type) {
	case *generated.ModuleConfig_Mqtt:
		return "mqtt"
	case *generated.ModuleConfig_Serial:
		return "serial"
	case *generated.ModuleConfig_ExternalNotification:
		return "external_notification"
	case *generated.ModuleConfig_StoreForward:
		return "store_forward"
	case *generated.ModuleConfig_RangeTest:
		return "range_test"
	case *generated.ModuleConfig_Telemetry:
		return "telemetry"
	case *generated.ModuleConfig_CannedMessage:
		return "canned_message"
	case *generated.ModuleConfig_Audio:
		return "audio"
	case *generated.ModuleConfig_RemoteHardware:
		return "remote_hardware"
	case *generated.ModuleConfig_NeighborInfo:
		return "neighbor_info"
	case *generated.ModuleConfig_AmbientLighting:
		return "ambient_lighting"
	case *generated.ModuleConfig_DetectionSensor:
		return "detection_sensor"
	case *generated.ModuleConfig_Paxcounter:
		return "paxcounter"
	default:
		return ""
	}
}

// SetFirmwareVersion is used by tests and by metadata packets that
// arrive outside the FromRadio metadata variant.
func (s *DeviceState) SetFirmwareVersion(fw string) {
	s.mu.Lock()
	s.local.FirmwareVersion = strings.TrimSpace(fw)
	s.favorites = favoritesUnknown
	s.mu.Unlock()
}
