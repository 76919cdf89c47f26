package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/adriankopytko/chatloop/internal/appcore"
	"github.com/adriankopytko/chatloop/internal/llm"
)

const (
	DefaultModel       = "gpt-4o-mini"
	DefaultEndMarker   = "<END>"
	DefaultToolTimeout = 30 * time.Second
	DefaultTurnTimeout = 5 * time.Minute
	configFileEnv      = "CHATLOOP_CONFIG"
)

type Config struct {
	Prompt      string
	Interactive bool
	ConfigFile  string

	Backend    string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration

	MaxTurns      int
	MaxToolCalls  int
	ToolTimeout   time.Duration
	TurnTimeout   time.Duration
	ParallelTools bool
	ToolChoice    string
	EndMarker     string
	Root          string

	Temperature      *float64
	TopP             *float64
	MaxTokens        *int
	Seed             *int
	Stop             []string
	PresencePenalty  *float64
	FrequencyPenalty *float64

	LogEnabled bool
	LogLevel   string
	LogSink    string
	LogFile    string
}

// envNames maps flags to the environment variables consulted when the
// flag is not given, in order.
var envNames = map[string][]string{
	"backend":           {"CHATLOOP_BACKEND"},
	"base-url":          {"CHATLOOP_BASE_URL", "OPENAI_BASE_URL"},
	"model":             {"CHATLOOP_MODEL"},
	"timeout":           {"CHATLOOP_TIMEOUT"},
	"max-retries":       {"CHATLOOP_MAX_RETRIES"},
	"base-delay":        {"CHATLOOP_BASE_DELAY"},
	"max-turns":         {"CHATLOOP_MAX_TURNS"},
	"max-tool-calls":    {"CHATLOOP_MAX_TOOL_CALLS"},
	"tool-timeout":      {"CHATLOOP_TOOL_TIMEOUT"},
	"turn-timeout":      {"CHATLOOP_TURN_TIMEOUT"},
	"parallel-tools":    {"CHATLOOP_PARALLEL_TOOLS"},
	"tool-choice":       {"CHATLOOP_TOOL_CHOICE"},
	"end-marker":        {"CHATLOOP_END_MARKER"},
	"root":              {"CHATLOOP_ROOT"},
	"temperature":       {"CHATLOOP_TEMPERATURE"},
	"top-p":             {"CHATLOOP_TOP_P"},
	"max-tokens":        {"CHATLOOP_MAX_TOKENS"},
	"seed":              {"CHATLOOP_SEED"},
	"stop":              {"CHATLOOP_STOP"},
	"presence-penalty":  {"CHATLOOP_PRESENCE_PENALTY"},
	"frequency-penalty": {"CHATLOOP_FREQUENCY_PENALTY"},
	"log-enabled":       {"LOG_ENABLED"},
	"log-level":         {"LOG_LEVEL"},
	"log-sink":          {"CHATLOOP_LOG_SINK"},
	"log-file":          {"CHATLOOP_LOG_FILE"},
}

// RegisterFlags binds every option to flagSet with its built-in default.
func RegisterFlags(flagSet *pflag.FlagSet, config *Config) {
	flagSet.StringVarP(&config.Prompt, "prompt", "p", "", "Prompt to send to the model")
	flagSet.BoolVar(&config.Interactive, "interactive", false, "Run in interactive multi-turn mode")
	flagSet.StringVar(&config.ConfigFile, "config", "", "Path to a YAML config file (env CHATLOOP_CONFIG)")

	flagSet.StringVar(&config.Backend, "backend", appcore.BackendHTTP, "Client backend: http, openai-sdk")
	flagSet.StringVar(&config.BaseURL, "base-url", llm.DefaultBaseURL, "Base URL of the chat completions API")
	flagSet.StringVar(&config.Model, "model", DefaultModel, "Model name")
	flagSet.DurationVar(&config.Timeout, "timeout", llm.DefaultTimeout, "Timeout per HTTP attempt")
	flagSet.IntVar(&config.MaxRetries, "max-retries", llm.DefaultMaxRetries, "Retries after a transient transport failure")
	flagSet.DurationVar(&config.BaseDelay, "base-delay", llm.DefaultBaseDelay, "Initial retry delay, doubled per attempt")

	flagSet.IntVar(&config.MaxTurns, "max-turns", 0, "Maximum tool-dispatch round trips per prompt (0 means no limit)")
	flagSet.IntVar(&config.MaxToolCalls, "max-tool-calls", 0, "Maximum tool calls per prompt (0 means no limit)")
	flagSet.DurationVar(&config.ToolTimeout, "tool-timeout", DefaultToolTimeout, "Maximum duration per tool execution")
	flagSet.DurationVar(&config.TurnTimeout, "turn-timeout", DefaultTurnTimeout, "Maximum duration per prompt including tool calls")
	flagSet.BoolVar(&config.ParallelTools, "parallel-tools", false, "Execute the tool calls of one response concurrently")
	flagSet.StringVar(&config.ToolChoice, "tool-choice", "", "Tool choice: auto, none, required, or a tool name")
	flagSet.StringVar(&config.EndMarker, "end-marker", DefaultEndMarker, "Reply suffix that ends an interactive conversation")
	flagSet.StringVar(&config.Root, "root", "", "Workspace root for file tools (default: current directory)")

	flagSet.Var(&optionalFloat{target: &config.Temperature}, "temperature", "Sampling temperature (0-2)")
	flagSet.Var(&optionalFloat{target: &config.TopP}, "top-p", "Nucleus sampling probability mass (0-1)")
	flagSet.Var(&optionalInt{target: &config.MaxTokens}, "max-tokens", "Maximum tokens to generate")
	flagSet.Var(&optionalInt{target: &config.Seed}, "seed", "Sampling seed")
	flagSet.StringSliceVar(&config.Stop, "stop", nil, "Stop sequence (repeatable, up to 4)")
	flagSet.Var(&optionalFloat{target: &config.PresencePenalty}, "presence-penalty", "Presence penalty (-2 to 2)")
	flagSet.Var(&optionalFloat{target: &config.FrequencyPenalty}, "frequency-penalty", "Frequency penalty (-2 to 2)")

	flagSet.BoolVar(&config.LogEnabled, "log-enabled", false, "Enable logging output")
	flagSet.StringVar(&config.LogLevel, "log-level", "info", "Log level: error, warn, info, debug")
	flagSet.StringVar(&config.LogSink, "log-sink", "stderr", "Log sink: stderr, stdout, json-file")
	flagSet.StringVar(&config.LogFile, "log-file", "", "Path for json-file log sink output")
}

// ParseArgs parses args on a fresh flag set and resolves the result.
func ParseArgs(args []string, envLookup func(string) (string, bool)) (Config, error) {
	config := Config{}
	flagSet := pflag.NewFlagSet("chatloop", pflag.ContinueOnError)
	flagSet.SetOutput(os.Stderr)
	RegisterFlags(flagSet, &config)

	if err := flagSet.Parse(args); err != nil {
		return Config{}, err
	}
	if err := Resolve(flagSet, &config, envLookup); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Resolve fills options not given as flags from the environment, then
// from the YAML config file, and validates the result.
func Resolve(flagSet *pflag.FlagSet, config *Config, envLookup func(string) (string, bool)) error {
	if envLookup == nil {
		envLookup = os.LookupEnv
	}

	if !flagSet.Changed("config") {
		if value, ok := envLookup(configFileEnv); ok {
			config.ConfigFile = strings.TrimSpace(value)
		}
	}
	fileValues := map[string]string{}
	if config.ConfigFile != "" {
		fileConfig, err := LoadFileConfig(config.ConfigFile)
		if err != nil {
			return err
		}
		fileValues = fileConfig.values()
	}

	var resolveErr error
	flagSet.VisitAll(func(flag *pflag.Flag) {
		if resolveErr != nil || flag.Changed {
			return
		}
		for _, name := range envNames[flag.Name] {
			if value, ok := envLookup(name); ok && strings.TrimSpace(value) != "" {
				value = strings.TrimSpace(value)
				if flag.Value.Type() == "bool" {
					value = normalizeBoolEnv(value)
				}
				if err := flagSet.Set(flag.Name, value); err != nil {
					resolveErr = fmt.Errorf("invalid value for %s: %w", name, err)
				}
				return
			}
		}
		if value, ok := fileValues[flag.Name]; ok {
			if err := flagSet.Set(flag.Name, value); err != nil {
				resolveErr = fmt.Errorf("invalid value for %s in %s: %w", strings.ReplaceAll(flag.Name, "-", "_"), config.ConfigFile, err)
			}
		}
	})
	if resolveErr != nil {
		return resolveErr
	}
	return validateConfig(*config)
}

func validateConfig(config Config) error {
	if _, err := appcore.ParseLogLevel(config.LogLevel); err != nil {
		return fmt.Errorf("invalid value for --log-level: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(config.LogSink)) {
	case "", "stderr", "stdout":
	case "json-file":
		if strings.TrimSpace(config.LogFile) == "" {
			return fmt.Errorf("invalid value for --log-file: required when --log-sink=json-file")
		}
	default:
		return fmt.Errorf("invalid value for --log-sink: %q (use: stderr, stdout, json-file)", config.LogSink)
	}

	switch strings.ToLower(strings.TrimSpace(config.Backend)) {
	case appcore.BackendHTTP, appcore.BackendOpenAISDK:
	default:
		return fmt.Errorf("invalid value for --backend: %q (use: %s, %s)", config.Backend, appcore.BackendHTTP, appcore.BackendOpenAISDK)
	}
	if strings.TrimSpace(config.Model) == "" {
		return fmt.Errorf("invalid value for --model: must not be empty")
	}
	if config.Timeout <= 0 {
		return fmt.Errorf("invalid value for --timeout: must be > 0")
	}
	if config.MaxRetries < 0 {
		return fmt.Errorf("invalid value for --max-retries: must be >= 0")
	}
	if config.BaseDelay < 0 {
		return fmt.Errorf("invalid value for --base-delay: must be >= 0")
	}
	if config.MaxTurns < 0 {
		return fmt.Errorf("invalid value for --max-turns: must be >= 0")
	}
	if config.MaxToolCalls < 0 {
		return fmt.Errorf("invalid value for --max-tool-calls: must be >= 0")
	}
	if config.ToolTimeout <= 0 {
		return fmt.Errorf("invalid value for --tool-timeout: must be > 0")
	}
	if config.TurnTimeout <= 0 {
		return fmt.Errorf("invalid value for --turn-timeout: must be > 0")
	}
	if choice := config.ToolChoicePolicy(); choice != nil && choice.Function != "" && strings.ContainsAny(choice.Function, " \t") {
		return fmt.Errorf("invalid value for --tool-choice: %q is not a tool name", config.ToolChoice)
	}
	return nil
}

// Options returns the sampling controls that were explicitly set.
func (config Config) Options() llm.Options {
	return llm.Options{
		Temperature:      config.Temperature,
		TopP:             config.TopP,
		MaxTokens:        config.MaxTokens,
		Seed:             config.Seed,
		Stop:             config.Stop,
		PresencePenalty:  config.PresencePenalty,
		FrequencyPenalty: config.FrequencyPenalty,
	}
}

func (config Config) ToolChoicePolicy() *llm.ToolChoice {
	return llm.ParseToolChoice(config.ToolChoice)
}

func (config Config) TransportConfig(apiKey string, logger llm.Logger) llm.TransportConfig {
	transport := llm.DefaultTransportConfig()
	transport.BaseURL = config.BaseURL
	transport.APIKey = apiKey
	transport.Timeout = config.Timeout
	transport.MaxRetries = config.MaxRetries
	transport.BaseDelay = config.BaseDelay
	transport.Logger = logger
	return transport
}

func (config Config) LoggerConfig() appcore.LoggerConfig {
	return appcore.LoggerConfig{
		Enabled: config.LogEnabled,
		Level:   config.LogLevel,
		LoggerSinkConfig: appcore.LoggerSinkConfig{
			Sink:     config.LogSink,
			FilePath: config.LogFile,
		},
	}
}

// FileConfig is the YAML config file layout. Keys mirror the long flag
// names with underscores.
type FileConfig struct {
	Backend       string   `yaml:"backend,omitempty"`
	BaseURL       string   `yaml:"base_url,omitempty"`
	Model         string   `yaml:"model,omitempty"`
	Timeout       string   `yaml:"timeout,omitempty"`
	MaxRetries    *int     `yaml:"max_retries,omitempty"`
	BaseDelay     string   `yaml:"base_delay,omitempty"`
	MaxTurns      *int     `yaml:"max_turns,omitempty"`
	MaxToolCalls  *int     `yaml:"max_tool_calls,omitempty"`
	ToolTimeout   string   `yaml:"tool_timeout,omitempty"`
	TurnTimeout   string   `yaml:"turn_timeout,omitempty"`
	ParallelTools *bool    `yaml:"parallel_tools,omitempty"`
	ToolChoice    string   `yaml:"tool_choice,omitempty"`
	EndMarker     *string  `yaml:"end_marker,omitempty"`
	Root          string   `yaml:"root,omitempty"`
	Sampling      Sampling `yaml:"sampling,omitempty"`
	Logging       Logging  `yaml:"logging,omitempty"`
}

type Sampling struct {
	Temperature      *float64 `yaml:"temperature,omitempty"`
	TopP             *float64 `yaml:"top_p,omitempty"`
	MaxTokens        *int     `yaml:"max_tokens,omitempty"`
	Seed             *int     `yaml:"seed,omitempty"`
	Stop             []string `yaml:"stop,omitempty"`
	PresencePenalty  *float64 `yaml:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `yaml:"frequency_penalty,omitempty"`
}

type Logging struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Level   string `yaml:"level,omitempty"`
	Sink    string `yaml:"sink,omitempty"`
	File    string `yaml:"file,omitempty"`
}

// LoadFileConfig reads a YAML config file. Unknown keys are rejected.
func LoadFileConfig(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var fileConfig FileConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&fileConfig); err != nil && !errors.Is(err, io.EOF) {
		return FileConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return fileConfig, nil
}

// values renders the set fields as flag values keyed by flag name.
func (fileConfig FileConfig) values() map[string]string {
	values := map[string]string{}
	setString := func(name, value string) {
		if strings.TrimSpace(value) != "" {
			values[name] = value
		}
	}
	setInt := func(name string, value *int) {
		if value != nil {
			values[name] = strconv.Itoa(*value)
		}
	}
	setFloat := func(name string, value *float64) {
		if value != nil {
			values[name] = strconv.FormatFloat(*value, 'g', -1, 64)
		}
	}
	setBool := func(name string, value *bool) {
		if value != nil {
			values[name] = strconv.FormatBool(*value)
		}
	}

	setString("backend", fileConfig.Backend)
	setString("base-url", fileConfig.BaseURL)
	setString("model", fileConfig.Model)
	setString("timeout", fileConfig.Timeout)
	setInt("max-retries", fileConfig.MaxRetries)
	setString("base-delay", fileConfig.BaseDelay)
	setInt("max-turns", fileConfig.MaxTurns)
	setInt("max-tool-calls", fileConfig.MaxToolCalls)
	setString("tool-timeout", fileConfig.ToolTimeout)
	setString("turn-timeout", fileConfig.TurnTimeout)
	setBool("parallel-tools", fileConfig.ParallelTools)
	setString("tool-choice", fileConfig.ToolChoice)
	if fileConfig.EndMarker != nil {
		values["end-marker"] = *fileConfig.EndMarker
	}
	setString("root", fileConfig.Root)

	sampling := fileConfig.Sampling
	setFloat("temperature", sampling.Temperature)
	setFloat("top-p", sampling.TopP)
	setInt("max-tokens", sampling.MaxTokens)
	setInt("seed", sampling.Seed)
	if len(sampling.Stop) > 0 {
		values["stop"] = strings.Join(sampling.Stop, ",")
	}
	setFloat("presence-penalty", sampling.PresencePenalty)
	setFloat("frequency-penalty", sampling.FrequencyPenalty)

	setBool("log-enabled", fileConfig.Logging.Enabled)
	setString("log-level", fileConfig.Logging.Level)
	setString("log-sink", fileConfig.Logging.Sink)
	setString("log-file", fileConfig.Logging.File)
	return values
}

// normalizeBoolEnv accepts the yes/no and on/off spellings common in
// environment files.
func normalizeBoolEnv(value string) string {
	switch strings.ToLower(value) {
	case "yes", "y", "on":
		return "true"
	case "no", "n", "off":
		return "false"
	default:
		return value
	}
}

// optionalFloat is a flag value that stays nil until set.
type optionalFloat struct {
	target **float64
}

func (value *optionalFloat) String() string {
	if value.target == nil || *value.target == nil {
		return ""
	}
	return strconv.FormatFloat(**value.target, 'g', -1, 64)
}

func (value *optionalFloat) Set(raw string) error {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return err
	}
	*value.target = &parsed
	return nil
}

func (value *optionalFloat) Type() string {
	return "float"
}

type optionalInt struct {
	target **int
}

func (value *optionalInt) String() string {
	if value.target == nil || *value.target == nil {
		return ""
	}
	return strconv.Itoa(**value.target)
}

func (value *optionalInt) Set(raw string) error {
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	*value.target = &parsed
	return nil
}

func (value *optionalInt) Type() string {
	return "int"
}
