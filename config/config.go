// vidgen/config/config.go
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const envPrefix = "VIDGEN"

// Config is loaded once at startup and passed down explicitly. Nothing mutates it afterwards.
type Config struct {
	FFBin               string        `mapstructure:"FF_BIN"`
	FFProbeBin          string        `mapstructure:"FFPROBE_BIN"`
	FFTimeout           time.Duration `mapstructure:"FF_TIMEOUT"`
	FFEncodeArgs        string        `mapstructure:"FF_ENCODE_ARGS"`
	TempDir             string        `mapstructure:"TEMP_DIR"`
	OutputDir           string        `mapstructure:"OUTPUT_DIR"`
	OutputLocalLifetime time.Duration `mapstructure:"OUTPUT_LOCAL_LIFETIME"`
	MaxInputSize        int64         `mapstructure:"MAX_INPUT_SIZE"`
	MaxConcurrency      int           `mapstructure:"MAX_CONCURRENCY"`
	SegmentWorkers      int           `mapstructure:"SEGMENT_WORKERS"`
	ThrottleCPU         float64       `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem     int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk    int64         `mapstructure:"THROTTLE_FREEDISK"`

	BatchMode          string        `mapstructure:"BATCH_MODE"`
	Transition         string        `mapstructure:"TRANSITION"`
	TransitionDuration time.Duration `mapstructure:"TRANSITION_DURATION"`
	BgVolume           float64       `mapstructure:"BG_VOLUME"`
	WatermarkScale     float64       `mapstructure:"WATERMARK_SCALE"`
	DefaultFont        string        `mapstructure:"DEFAULT_FONT"`
	CountdownSFX       string        `mapstructure:"COUNTDOWN_SFX"`

	TTSBackend        string `mapstructure:"TTS_BACKEND"`
	TTSWordsPerMinute int    `mapstructure:"TTS_WORDS_PER_MINUTE"`
	ElevenLabsAPIKey  string `mapstructure:"ELEVENLABS_API_KEY"`
	ElevenLabsVoiceID string `mapstructure:"ELEVENLABS_VOICE_ID"`
	ElevenLabsModelID string `mapstructure:"ELEVENLABS_MODEL_ID"`
	ElevenLabsAPIURL  string `mapstructure:"ELEVENLABS_API_URL"`
	PollyRegion       string `mapstructure:"POLLY_REGION"`
	PollyVoice        string `mapstructure:"POLLY_VOICE"`

	LogLevel   string `mapstructure:"LOG_LEVEL"`
	LogJSON    bool   `mapstructure:"LOG_JSON"`
	AuthEnable bool   `mapstructure:"AUTH_ENABLE"`
	AuthKey    string `mapstructure:"AUTH_KEY"`
	Port       string `mapstructure:"PORT"`
	BaseURL    string `mapstructure:"BASE"`
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

func setDefaults(vp *viper.Viper) {
	// Set default values as strings, the hooks will handle them.
	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("FFPROBE_BIN", "ffprobe")
	vp.SetDefault("FF_TIMEOUT", "12m3s")
	vp.SetDefault("FF_ENCODE_ARGS", "-preset ultrafast -threads 2")
	vp.SetDefault("TEMP_DIR", "")
	vp.SetDefault("OUTPUT_DIR", ".")
	vp.SetDefault("OUTPUT_LOCAL_LIFETIME", "1h23m")
	vp.SetDefault("MAX_INPUT_SIZE", "200MB")
	vp.SetDefault("MAX_CONCURRENCY", 1)
	vp.SetDefault("SEGMENT_WORKERS", 1)
	vp.SetDefault("THROTTLE_CPU", 50.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "200MB")

	vp.SetDefault("BATCH_MODE", "continue")
	vp.SetDefault("TRANSITION", "")
	vp.SetDefault("TRANSITION_DURATION", "1s")
	vp.SetDefault("BG_VOLUME", 0.3)
	vp.SetDefault("WATERMARK_SCALE", 0.7)
	vp.SetDefault("DEFAULT_FONT", "")
	vp.SetDefault("COUNTDOWN_SFX", "")

	vp.SetDefault("TTS_BACKEND", "silence")
	vp.SetDefault("TTS_WORDS_PER_MINUTE", 150)
	vp.SetDefault("ELEVENLABS_API_KEY", "")
	vp.SetDefault("ELEVENLABS_VOICE_ID", "")
	vp.SetDefault("ELEVENLABS_MODEL_ID", "eleven_turbo_v2_5")
	vp.SetDefault("ELEVENLABS_API_URL", "https://api.elevenlabs.io/v1")
	vp.SetDefault("POLLY_REGION", "us-east-1")
	vp.SetDefault("POLLY_VOICE", "Joanna")

	vp.SetDefault("LOG_LEVEL", "info")
	vp.SetDefault("LOG_JSON", false)
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "123456")
	vp.SetDefault("PORT", "8080")
	vp.SetDefault("BASE", "")
}

// Load reads defaults, then the optional config file, then VIDGEN_* environment variables.
// An empty configFile searches ./vidgen_config.yaml and /etc/vidgen/.
func Load(configFile string) (*Config, error) {
	vp := viper.New()
	setDefaults(vp)

	if configFile != "" {
		vp.SetConfigFile(configFile)
	} else {
		vp.SetConfigName("vidgen_config")
		vp.SetConfigType("yaml")
		vp.AddConfigPath(".")
		vp.AddConfigPath("/etc/vidgen/")
	}

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The order matters: the first hook that succeeds is used.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.BatchMode {
	case "abort", "continue":
	default:
		return fmt.Errorf("invalid BATCH_MODE %q: want abort or continue", c.BatchMode)
	}
	if c.SegmentWorkers < 1 {
		return fmt.Errorf("SEGMENT_WORKERS must be at least 1, got %d", c.SegmentWorkers)
	}
	if c.BgVolume < 0 {
		return fmt.Errorf("BG_VOLUME must not be negative, got %v", c.BgVolume)
	}
	if c.WatermarkScale <= 0 {
		return fmt.Errorf("WATERMARK_SCALE must be positive, got %v", c.WatermarkScale)
	}
	return nil
}
