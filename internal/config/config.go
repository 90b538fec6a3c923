package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bzfsd/bzfsd/internal/flag"
	"github.com/bzfsd/bzfsd/internal/player"
	"github.com/bzfsd/bzfsd/internal/protocol"
	"github.com/bzfsd/bzfsd/internal/world"
)

// FileName is the configuration file looked up in the config directory.
const FileName = "bzfsd.cfg.json"

// ErrInvalidConfig is wrapped by every validation failure in Build.
var ErrInvalidConfig = errors.New("invalid configuration")

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds settings for the in-memory SQLite backend.
type SQLiteConfig struct {
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
	DumpPath     string        `json:"dumpPath" mapstructure:"dumpPath"`
}

// DBConfig holds the PostgreSQL connection settings.
type DBConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// WebsocketConfig holds the live event feed endpoint.
type WebsocketConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
}

// StorageConfig selects and configures the match history backend.
type StorageConfig struct {
	Type      string          `json:"type" mapstructure:"type"`
	Memory    MemoryConfig    `json:"memory" mapstructure:"memory"`
	SQLite    SQLiteConfig    `json:"sqlite" mapstructure:"sqlite"`
	Postgres  DBConfig        `json:"db" mapstructure:"db"`
	Websocket WebsocketConfig `json:"websocket" mapstructure:"websocket"`
	QueueSize int             `json:"queueSize" mapstructure:"queueSize"`
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// InfluxConfig holds the InfluxDB connection.
type InfluxConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Protocol string `json:"protocol" mapstructure:"protocol"`
	Token    string `json:"token" mapstructure:"token"`
	Org      string `json:"org" mapstructure:"org"`
}

// GraylogConfig holds the GELF sink address.
type GraylogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// MetricsConfig holds the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// ArchiveConfig is the web archive that receives exported match files.
type ArchiveConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
}

// NetworkConfig holds listener and capacity settings.
type NetworkConfig struct {
	Address      string        `json:"address" mapstructure:"address"`
	Port         int           `json:"port" mapstructure:"port"`
	MaxPlayers   int           `json:"maxPlayers" mapstructure:"maxPlayers"`
	MaxObservers int           `json:"maxObservers" mapstructure:"maxObservers"`
	RequireUDP   bool          `json:"requireUDP" mapstructure:"requireUDP"`
	WriteTimeout time.Duration `json:"writeTimeout" mapstructure:"writeTimeout"`
	// AcceptRate and AcceptBurst throttle connections per address.
	AcceptRate  float64  `json:"acceptRate" mapstructure:"acceptRate"`
	AcceptBurst int      `json:"acceptBurst" mapstructure:"acceptBurst"`
	Bans        []string `json:"bans" mapstructure:"bans"`
}

// StyleConfig switches the game style bits.
type StyleConfig struct {
	CaptureTheFlag bool `json:"ctf" mapstructure:"ctf"`
	SuperFlags     bool `json:"superFlags" mapstructure:"superFlags"`
	Rogues         bool `json:"rogues" mapstructure:"rogues"`
	Jumping        bool `json:"jumping" mapstructure:"jumping"`
	Inertia        bool `json:"inertia" mapstructure:"inertia"`
	Ricochet       bool `json:"ricochet" mapstructure:"ricochet"`
	Shakable       bool `json:"shakable" mapstructure:"shakable"`
	Antidote       bool `json:"antidote" mapstructure:"antidote"`
	TimeSync       bool `json:"timeSync" mapstructure:"timeSync"`
	RabbitChase    bool `json:"rabbitChase" mapstructure:"rabbitChase"`
}

// Bits packs the style into its wire form.
func (s StyleConfig) Bits() uint16 {
	var b uint16
	set := func(on bool, bit uint16) {
		if on {
			b |= bit
		}
	}
	set(s.CaptureTheFlag, protocol.StyleTeamFlag)
	set(s.SuperFlags, protocol.StyleSuperFlag)
	set(s.Rogues, protocol.StyleRogues)
	set(s.Jumping, protocol.StyleJumping)
	set(s.Inertia, protocol.StyleInertia)
	set(s.Ricochet, protocol.StyleRicochet)
	set(s.Shakable, protocol.StyleShakable)
	set(s.Antidote, protocol.StyleAntidote)
	set(s.TimeSync, protocol.StyleTimeSync)
	set(s.RabbitChase, protocol.StyleRabbitChase)
	return b
}

// GameConfig holds the rules of play.
type GameConfig struct {
	Title          string        `json:"title" mapstructure:"title"`
	Style          StyleConfig   `json:"style" mapstructure:"style"`
	MaxShots       int           `json:"maxShots" mapstructure:"maxShots"`
	TimeLimit      time.Duration `json:"timeLimit" mapstructure:"timeLimit"`
	MaxPlayerScore int           `json:"maxPlayerScore" mapstructure:"maxPlayerScore"`
	MaxTeamScore   int           `json:"maxTeamScore" mapstructure:"maxTeamScore"`
	TeamKillerDies bool          `json:"teamKillerDies" mapstructure:"teamKillerDies"`
	// TeamKillRatio is the team kills per hundred wins that get a player
	// kicked; 0 disables the kick.
	TeamKillRatio int           `json:"teamKillRatio" mapstructure:"teamKillRatio"`
	IdleKick      time.Duration `json:"idleKick" mapstructure:"idleKick"`
	// MaxTeam caps each team, indexed Rogue..Observer.
	MaxTeam          []int         `json:"maxTeam" mapstructure:"maxTeam"`
	ShakeWins        int           `json:"shakeWins" mapstructure:"shakeWins"`
	ShakeTimeout     time.Duration `json:"shakeTimeout" mapstructure:"shakeTimeout"`
	OperatorPassword string        `json:"operatorPassword" mapstructure:"operatorPassword"`
	Greeting         []string      `json:"greeting" mapstructure:"greeting"`
	Seed             uint64        `json:"seed" mapstructure:"seed"`
}

// PhysicsConfig holds the world constants validation and flight use.
type PhysicsConfig struct {
	Gravity             float32 `json:"gravity" mapstructure:"gravity"`
	TankSpeed           float32 `json:"tankSpeed" mapstructure:"tankSpeed"`
	TankRadius          float32 `json:"tankRadius" mapstructure:"tankRadius"`
	TankHeight          float32 `json:"tankHeight" mapstructure:"tankHeight"`
	FlagRadius          float32 `json:"flagRadius" mapstructure:"flagRadius"`
	FlagAltitude        float32 `json:"flagAltitude" mapstructure:"flagAltitude"`
	FlagHeight          float32 `json:"flagHeight" mapstructure:"flagHeight"`
	ShieldFlight        float32 `json:"shieldFlight" mapstructure:"shieldFlight"`
	JumpVelocity        float32 `json:"jumpVelocity" mapstructure:"jumpVelocity"`
	BurrowDepth         float32 `json:"burrowDepth" mapstructure:"burrowDepth"`
	BurrowSpeedAd       float32 `json:"burrowSpeedAd" mapstructure:"burrowSpeedAd"`
	VelocityAd          float32 `json:"velocityAd" mapstructure:"velocityAd"`
	ThiefVelAd          float32 `json:"thiefVelAd" mapstructure:"thiefVelAd"`
	ObeseFactor         float32 `json:"obeseFactor" mapstructure:"obeseFactor"`
	MuzzleFront         float32 `json:"muzzleFront" mapstructure:"muzzleFront"`
	MuzzleHeight        float32 `json:"muzzleHeight" mapstructure:"muzzleHeight"`
	ShotSpeed           float32 `json:"shotSpeed" mapstructure:"shotSpeed"`
	ReloadTime          float32 `json:"reloadTime" mapstructure:"reloadTime"`
	WorldSize           float32 `json:"worldSize" mapstructure:"worldSize"`
	SpeedTolerance      float32 `json:"speedTolerance" mapstructure:"speedTolerance"`
	LinearAcceleration  float32 `json:"linearAcceleration" mapstructure:"linearAcceleration"`
	AngularAcceleration float32 `json:"angularAcceleration" mapstructure:"angularAcceleration"`
}

// FlagsConfig lays out the flag table.
type FlagsConfig struct {
	Counts          map[string]int `json:"counts" mapstructure:"counts"`
	Extra           int            `json:"extra" mapstructure:"extra"`
	Disallowed      []string       `json:"disallowed" mapstructure:"disallowed"`
	ShotLimits      map[string]int `json:"shotLimits" mapstructure:"shotLimits"`
	OnBuildings     bool           `json:"onBuildings" mapstructure:"onBuildings"`
	TeamFlagTimeout time.Duration  `json:"teamFlagTimeout" mapstructure:"teamFlagTimeout"`
}

// LagConfig holds the lag warning policy.
type LagConfig struct {
	Threshold   time.Duration `json:"threshold" mapstructure:"threshold"`
	MaxWarnings int           `json:"maxWarnings" mapstructure:"maxWarnings"`
}

// ListServerConfig holds the list-server advertisement settings.
type ListServerConfig struct {
	Enabled       bool          `json:"enabled" mapstructure:"enabled"`
	Servers       []string      `json:"servers" mapstructure:"servers"`
	PublicAddress string        `json:"publicAddress" mapstructure:"publicAddress"`
	ReAdd         time.Duration `json:"reAdd" mapstructure:"reAdd"`
	ShutdownWait  time.Duration `json:"shutdownWait" mapstructure:"shutdownWait"`
}

// Config is the immutable snapshot every component receives.
type Config struct {
	LogLevel   string
	LogsDir    string
	StatusFile string

	Network    NetworkConfig
	Game       GameConfig
	Physics    PhysicsConfig
	Flags      FlagsConfig
	Lag        LagConfig
	ListServer ListServerConfig
	Storage    StorageConfig
	Influx     InfluxConfig
	OTel       OTelConfig
	Graylog    GraylogConfig
	Metrics    MetricsConfig
	Archive    ArchiveConfig
	World      world.Config
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./bzfslogs")
	viper.SetDefault("statusFile", "")

	viper.SetDefault("network.address", "")
	viper.SetDefault("network.port", 5154)
	viper.SetDefault("network.maxPlayers", 20)
	viper.SetDefault("network.maxObservers", 3)
	viper.SetDefault("network.requireUDP", false)
	viper.SetDefault("network.writeTimeout", "5ms")
	viper.SetDefault("network.acceptRate", 2.0)
	viper.SetDefault("network.acceptBurst", 5)
	viper.SetDefault("network.bans", []string{})

	viper.SetDefault("game.title", "bzfsd server")
	viper.SetDefault("game.style.ctf", false)
	viper.SetDefault("game.style.superFlags", false)
	viper.SetDefault("game.style.rogues", true)
	viper.SetDefault("game.style.jumping", false)
	viper.SetDefault("game.style.ricochet", false)
	viper.SetDefault("game.style.rabbitChase", false)
	viper.SetDefault("game.maxShots", 1)
	viper.SetDefault("game.timeLimit", "0s")
	viper.SetDefault("game.maxPlayerScore", 0)
	viper.SetDefault("game.maxTeamScore", 0)
	viper.SetDefault("game.teamKillerDies", false)
	viper.SetDefault("game.teamKillRatio", 0)
	viper.SetDefault("game.idleKick", "0s")
	viper.SetDefault("game.maxTeam", []int{20, 20, 20, 20, 20, 3})
	viper.SetDefault("game.shakeWins", 0)
	viper.SetDefault("game.shakeTimeout", "0s")
	viper.SetDefault("game.operatorPassword", "")
	viper.SetDefault("game.greeting", []string{})
	viper.SetDefault("game.seed", 0)

	viper.SetDefault("physics.gravity", -9.8)
	viper.SetDefault("physics.tankSpeed", 25.0)
	viper.SetDefault("physics.tankRadius", 4.32)
	viper.SetDefault("physics.tankHeight", 2.05)
	viper.SetDefault("physics.flagRadius", 2.5)
	viper.SetDefault("physics.flagAltitude", 11.0)
	viper.SetDefault("physics.flagHeight", 10.0)
	viper.SetDefault("physics.shieldFlight", 2.7)
	viper.SetDefault("physics.jumpVelocity", 19.0)
	viper.SetDefault("physics.burrowDepth", -1.32)
	viper.SetDefault("physics.burrowSpeedAd", 0.8)
	viper.SetDefault("physics.velocityAd", 1.5)
	viper.SetDefault("physics.thiefVelAd", 1.67)
	viper.SetDefault("physics.obeseFactor", 2.5)
	viper.SetDefault("physics.muzzleFront", 6.6)
	viper.SetDefault("physics.muzzleHeight", 1.57)
	viper.SetDefault("physics.shotSpeed", 100.0)
	viper.SetDefault("physics.reloadTime", 3.5)
	viper.SetDefault("physics.worldSize", 800.0)
	viper.SetDefault("physics.speedTolerance", 1.125)
	viper.SetDefault("physics.linearAcceleration", 0.0)
	viper.SetDefault("physics.angularAcceleration", 0.0)

	viper.SetDefault("flags.counts", map[string]int{})
	viper.SetDefault("flags.extra", 0)
	viper.SetDefault("flags.disallowed", []string{})
	viper.SetDefault("flags.shotLimits", map[string]int{})
	viper.SetDefault("flags.onBuildings", false)
	viper.SetDefault("flags.teamFlagTimeout", "30s")

	viper.SetDefault("lag.threshold", "0s")
	viper.SetDefault("lag.maxWarnings", 10000)

	viper.SetDefault("listServer.enabled", false)
	viper.SetDefault("listServer.servers", []string{})
	viper.SetDefault("listServer.publicAddress", "")
	viper.SetDefault("listServer.reAdd", "30m")
	viper.SetDefault("listServer.shutdownWait", "3s")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.queueSize", 4096)
	viper.SetDefault("storage.memory.outputDir", "./matches")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.sqlite.dumpPath", "./matches.db")
	viper.SetDefault("storage.db.host", "localhost")
	viper.SetDefault("storage.db.port", "5432")
	viper.SetDefault("storage.db.username", "postgres")
	viper.SetDefault("storage.db.password", "postgres")
	viper.SetDefault("storage.db.database", "bzfsd")
	viper.SetDefault("storage.websocket.url", "")
	viper.SetDefault("storage.websocket.secret", "")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "bzfsd-metrics")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.address", "localhost:9154")

	viper.SetDefault("archive.url", "")
	viper.SetDefault("archive.secret", "")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "bzfsd")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// LoadOptional is Load without the requirement that the file exists.
func LoadOptional(configDir string) error {
	err := Load(configDir)
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetStorageConfig returns the storage backend settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
		},
		Postgres: DBConfig{
			Host:     viper.GetString("storage.db.host"),
			Port:     viper.GetString("storage.db.port"),
			Username: viper.GetString("storage.db.username"),
			Password: viper.GetString("storage.db.password"),
			Database: viper.GetString("storage.db.database"),
		},
		Websocket: WebsocketConfig{
			URL:    viper.GetString("storage.websocket.url"),
			Secret: viper.GetString("storage.websocket.secret"),
		},
		QueueSize: viper.GetInt("storage.queueSize"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// Build snapshots viper into a validated Config. Nothing should read viper
// after this.
func Build() (*Config, error) {
	c := &Config{
		LogLevel:   viper.GetString("logLevel"),
		LogsDir:    viper.GetString("logsDir"),
		StatusFile: viper.GetString("statusFile"),
		Storage:    GetStorageConfig(),
		OTel:       GetOTelConfig(),
	}

	// Unmarshal works from AllSettings, so nested defaults survive a file
	// that sets only part of a section.
	var f struct {
		Network    NetworkConfig    `mapstructure:"network"`
		Game       GameConfig       `mapstructure:"game"`
		Physics    PhysicsConfig    `mapstructure:"physics"`
		Flags      FlagsConfig      `mapstructure:"flags"`
		Lag        LagConfig        `mapstructure:"lag"`
		ListServer ListServerConfig `mapstructure:"listServer"`
		Influx     InfluxConfig     `mapstructure:"influx"`
		Graylog    GraylogConfig    `mapstructure:"graylog"`
		Metrics    MetricsConfig    `mapstructure:"metrics"`
		Archive    ArchiveConfig    `mapstructure:"archive"`
		World      *world.Config    `mapstructure:"world"`
	}
	if err := viper.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	c.Network, c.Game, c.Physics, c.Flags, c.Lag = f.Network, f.Game, f.Physics, f.Flags, f.Lag
	c.ListServer, c.Influx, c.Graylog, c.Metrics = f.ListServer, f.Influx, f.Graylog, f.Metrics
	c.Archive = f.Archive

	if f.World != nil {
		c.World = *f.World
	} else {
		c.World = world.DefaultConfig(c.Physics.WorldSize, c.Physics.FlagHeight)
	}
	if c.World.Size == 0 {
		c.World.Size = c.Physics.WorldSize
	}
	if c.World.FlagHeight == 0 {
		c.World.FlagHeight = c.Physics.FlagHeight
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	var problems []string
	if c.Network.Port <= 0 || c.Network.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d out of range", c.Network.Port))
	}
	if c.Network.MaxPlayers <= 0 {
		problems = append(problems, "maxPlayers must be positive")
	}
	if c.Network.MaxPlayers+c.Network.MaxObservers > int(protocol.LastRealPlayer)+1 {
		problems = append(problems, fmt.Sprintf("at most %d slots are addressable", int(protocol.LastRealPlayer)+1))
	}
	if c.Game.MaxShots < 1 {
		problems = append(problems, "maxShots must be at least 1")
	}
	if len(c.Game.MaxTeam) != player.NumTeams {
		problems = append(problems, fmt.Sprintf("maxTeam needs %d entries", player.NumTeams))
	}
	if c.Physics.Gravity >= 0 {
		problems = append(problems, "gravity must be negative")
	}
	if c.Physics.WorldSize <= 2*world.BaseSize {
		problems = append(problems, "worldSize too small")
	}
	if c.Physics.SpeedTolerance < 1 {
		problems = append(problems, "speedTolerance below 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Capacity is the number of session slots.
func (c *Config) Capacity() int { return c.Network.MaxPlayers + c.Network.MaxObservers }

// MaxTeamSize returns the cap for t.
func (c *Config) MaxTeamSize(t player.Team) int {
	if !t.Valid() || int(t) >= len(c.Game.MaxTeam) {
		return 0
	}
	return c.Game.MaxTeam[t]
}

// FlagSettings derives the flag engine's settings.
func (c *Config) FlagSettings() flag.Settings {
	return flag.Settings{
		Physics: flag.Physics{
			Gravity:      c.Physics.Gravity,
			FlagAltitude: c.Physics.FlagAltitude,
			ShieldFlight: c.Physics.ShieldFlight,
			TankRadius:   c.Physics.TankRadius,
			TankHeight:   c.Physics.TankHeight,
			TankSpeed:    c.Physics.TankSpeed,
			FlagRadius:   c.Physics.FlagRadius,
			ObeseFactor:  c.Physics.ObeseFactor,
		},
		TeamFlags:       c.Game.Style.CaptureTheFlag,
		Counts:          upperKeys(c.Flags.Counts),
		Extra:           c.Flags.Extra,
		Disallowed:      c.Flags.Disallowed,
		ShotLimits:      upperKeys(c.Flags.ShotLimits),
		OnBuildings:     c.Flags.OnBuildings,
		TeamFlagTimeout: c.Flags.TeamFlagTimeout,
	}
}

// upperKeys undoes viper's key lowercasing for flag abbreviations.
func upperKeys(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[strings.ToUpper(k)] += v
	}
	return out
}

// WorldHeader derives the game header packed into the world blob.
func (c *Config) WorldHeader(numFlags int) world.Header {
	return world.Header{
		GameStyle:    c.Game.Style.Bits(),
		MaxPlayers:   uint16(c.Capacity()),
		MaxShots:     uint16(c.Game.MaxShots),
		NumFlags:     uint16(numFlags),
		LinearAccel:  c.Physics.LinearAcceleration,
		AngularAccel: c.Physics.AngularAcceleration,
		ShakeTimeout: uint16(c.Game.ShakeTimeout / (100 * time.Millisecond)),
		ShakeWins:    uint16(c.Game.ShakeWins),
		IncludeBases: c.Game.Style.CaptureTheFlag,
	}
}
