// Package config loads the download engine's configuration the way the
// original bot did: environment variables (optionally from an on-disk .env
// file), overridable by CLI flags, processed once at startup into a package
// singleton. The config file format itself is treated as an opaque key/value
// blob — persisted state in storage.AppConfigRepository is the source of
// truth for anything that changes at runtime.
package config

import (
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	defaultDev                 bool   = false
	defaultLogLevel            string = "info"
	defaultPort                int    = 8080
	defaultStatusPort          int    = 9090
	defaultHost                string = ""
	defaultHashLength          int    = 6
	defaultUseSessionFile      bool   = true
	defaultUsePublicIP         bool   = false
	defaultMaxDownloadTask     int    = 5
	defaultPauseTimeoutSeconds int    = 300
	defaultRetryTimeoutSeconds int    = 3
	defaultFinalizerPollSecs   int    = 2
	defaultFinalizerMaxWaitSec int    = 300
	defaultSavePath            string = "downloads"
	defaultBotSavePath         string = "downloads/bot"
	defaultTempSavePath        string = "downloads/.tmp"
	defaultDatabasePath        string = "tgdl.db"
	defaultHistoryFilePath     string = "custom_download_history.yaml"
	defaultSessionDir          string = "sessions"
	defaultZipLinkTTLSeconds   int    = 86400
)

var ValueOf = &config{
	Dev:                  defaultDev,
	LogLevel:             defaultLogLevel,
	Port:                 defaultPort,
	StatusPort:           defaultStatusPort,
	Host:                 defaultHost,
	HashLength:           defaultHashLength,
	UseSessionFile:       defaultUseSessionFile,
	UsePublicIP:          defaultUsePublicIP,
	MaxDownloadTask:      defaultMaxDownloadTask,
	PauseTimeoutSeconds:  defaultPauseTimeoutSeconds,
	RetryTimeoutSeconds:  defaultRetryTimeoutSeconds,
	FinalizerPollSeconds: defaultFinalizerPollSecs,
	FinalizerMaxWaitSecs: defaultFinalizerMaxWaitSec,
	SavePath:             defaultSavePath,
	BotSavePath:          defaultBotSavePath,
	TempSavePath:         defaultTempSavePath,
	DatabasePath:         defaultDatabasePath,
	HistoryFilePath:      defaultHistoryFilePath,
	SessionDir:           defaultSessionDir,
	ZipLinkTTLSeconds:    defaultZipLinkTTLSeconds,
}

type allowedUsers []int64

func (au *allowedUsers) Decode(value string) error {
	if value == "" {
		return nil
	}
	for _, id := range strings.Split(value, ",") {
		idInt, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return err
		}
		*au = append(*au, idInt)
	}
	return nil
}

type stringList []string

func (sl *stringList) Decode(value string) error {
	if value == "" {
		return nil
	}
	for _, v := range strings.Split(value, ",") {
		*sl = append(*sl, strings.TrimSpace(v))
	}
	return nil
}

type config struct {
	ApiID    int32  `envconfig:"API_ID" required:"true"`
	ApiHash  string `envconfig:"API_HASH" required:"true"`
	BotToken string `envconfig:"BOT_TOKEN"`

	Dev        bool   `envconfig:"DEV" default:"false"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	Port       int    `envconfig:"PORT" default:"8080"`
	StatusPort int    `envconfig:"STATUS_PORT" default:"9090"`
	Host       string `envconfig:"HOST" default:""`
	HashLength int    `envconfig:"HASH_LENGTH" default:"6"`

	UseSessionFile bool         `envconfig:"USE_SESSION_FILE" default:"true"`
	SessionDir     string       `envconfig:"SESSION_DIR" default:"sessions"`
	UsePublicIP    bool         `envconfig:"USE_PUBLIC_IP" default:"false"`
	AllowedUsers   allowedUsers `envconfig:"ALLOWED_USERS"`

	MaxDownloadTask      int `envconfig:"MAX_DOWNLOAD_TASK" default:"5"`
	PauseTimeoutSeconds  int `envconfig:"PAUSE_TIMEOUT_SECONDS" default:"300"`
	RetryTimeoutSeconds  int `envconfig:"RETRY_TIMEOUT_SECONDS" default:"3"`
	FinalizerPollSeconds int `envconfig:"FINALIZER_POLL_SECONDS" default:"2"`
	FinalizerMaxWaitSecs int `envconfig:"FINALIZER_MAX_WAIT_SECONDS" default:"300"`

	SavePath        string     `envconfig:"SAVE_PATH" default:"downloads"`
	BotSavePath     string     `envconfig:"BOT_SAVE_PATH" default:"downloads/bot"`
	TempSavePath    string     `envconfig:"TEMP_SAVE_PATH" default:"downloads/.tmp"`
	PathPrefixOrder stringList `envconfig:"PATH_PREFIX_ORDER"` // e.g. "chat_title,media_datetime,media_type"

	DatabasePath    string `envconfig:"DATABASE_PATH" default:"tgdl.db"`
	HistoryFilePath string `envconfig:"HISTORY_FILE_PATH" default:"custom_download_history.yaml"`

	EnableDownloadTxt bool `envconfig:"ENABLE_DOWNLOAD_TXT" default:"false"`

	// ZipLinkSecret signs shareable zip-download URLs so a manager_id alone
	// doesn't grant access; empty disables signing (any holder of the id
	// may download once the archive is ready).
	ZipLinkSecret     string `envconfig:"ZIP_LINK_SECRET"`
	ZipLinkTTLSeconds int    `envconfig:"ZIP_LINK_TTL_SECONDS" default:"86400"`

	MultiTokens []string
}

func (c *config) loadFromEnvFile(log *zap.Logger) {
	err := godotenv.Load("tgdl.env")
	if err != nil {
		if os.IsNotExist(err) {
			log.Sugar().Info("No tgdl.env file found, relying on process environment")
		} else {
			log.Fatal("Unknown error while parsing env file.", zap.Error(err))
		}
	}
}

func SetFlagsFromConfig(cmd *cobra.Command) {
	cmd.Flags().Int32("api-id", ValueOf.ApiID, "Telegram API ID")
	cmd.Flags().String("api-hash", ValueOf.ApiHash, "Telegram API Hash")
	cmd.Flags().String("bot-token", ValueOf.BotToken, "Telegram bot token used for notifications")
	cmd.Flags().Bool("dev", ValueOf.Dev, "Enable development mode")
	cmd.Flags().IntP("port", "p", ValueOf.Port, "Control surface HTTP port")
	cmd.Flags().String("host", ValueOf.Host, "Public host used in generated links")
	cmd.Flags().Int("max-download-task", ValueOf.MaxDownloadTask, "Number of concurrent download workers")
	cmd.Flags().String("save-path", ValueOf.SavePath, "Root directory for downloaded media")
}

func (c *config) loadConfigFromArgs(cmd *cobra.Command) {
	setIfChanged := func(flag, env string, get func() (string, error)) {
		if !cmd.Flags().Changed(flag) {
			return
		}
		if v, err := get(); err == nil {
			os.Setenv(env, v)
		}
	}
	setIfChanged("api-id", "API_ID", func() (string, error) {
		v, err := cmd.Flags().GetInt32("api-id")
		return strconv.Itoa(int(v)), err
	})
	setIfChanged("api-hash", "API_HASH", func() (string, error) { return cmd.Flags().GetString("api-hash") })
	setIfChanged("bot-token", "BOT_TOKEN", func() (string, error) { return cmd.Flags().GetString("bot-token") })
	setIfChanged("dev", "DEV", func() (string, error) {
		v, err := cmd.Flags().GetBool("dev")
		return strconv.FormatBool(v), err
	})
	setIfChanged("port", "PORT", func() (string, error) {
		v, err := cmd.Flags().GetInt("port")
		return strconv.Itoa(v), err
	})
	setIfChanged("host", "HOST", func() (string, error) { return cmd.Flags().GetString("host") })
	setIfChanged("max-download-task", "MAX_DOWNLOAD_TASK", func() (string, error) {
		v, err := cmd.Flags().GetInt("max-download-task")
		return strconv.Itoa(v), err
	})
	setIfChanged("save-path", "SAVE_PATH", func() (string, error) { return cmd.Flags().GetString("save-path") })
}

var multiTokenPrefix = "MULTI_TOKEN"

func (c *config) loadMultiTokensFromEnv() {
	c.MultiTokens = c.MultiTokens[:0]
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, multiTokenPrefix) {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		token := strings.TrimSpace(parts[1])
		if token != "" {
			c.MultiTokens = append(c.MultiTokens, token)
		}
	}
}

func (c *config) setupEnvVars(log *zap.Logger, cmd *cobra.Command) {
	c.loadFromEnvFile(log)
	c.loadConfigFromArgs(cmd)
	if err := envconfig.Process("", c); err != nil {
		log.Fatal("Error while parsing env variables", zap.Error(err))
	}
	c.loadMultiTokensFromEnv()

	if c.Host == "" {
		ip, err := getIP(c.UsePublicIP)
		if err != nil {
			log.Warn("Could not determine host IP, falling back to localhost", zap.Error(err))
		}
		c.Host = "http://" + ip + ":" + strconv.Itoa(c.Port)
		log.Sugar().Infof("HOST not set, automatically set to %s", c.Host)
	}
}

// Load parses configuration from the environment/flags and validates it,
// exactly mirroring the teacher's Load(log, cmd) entrypoint shape.
func Load(log *zap.Logger, cmd *cobra.Command) {
	log = log.Named("Config")
	defer log.Info("Loaded config")
	ValueOf.setupEnvVars(log, cmd)

	if ValueOf.HashLength == 0 {
		ValueOf.HashLength = 6
	}
	if ValueOf.HashLength > 32 {
		ValueOf.HashLength = 32
	}
	if ValueOf.HashLength < 5 {
		ValueOf.HashLength = 6
	}
	if ValueOf.MaxDownloadTask <= 0 {
		log.Sugar().Warn("MAX_DOWNLOAD_TASK must be positive, defaulting to 5")
		ValueOf.MaxDownloadTask = 5
	}
	if len(ValueOf.PathPrefixOrder) == 0 {
		ValueOf.PathPrefixOrder = []string{"chat_title", "media_datetime", "media_type"}
	}
}

func getIP(public bool) (string, error) {
	var ip string
	var err error
	if public {
		ip, err = GetPublicIP()
	} else {
		ip, err = getInternalIP()
	}
	if ip == "" {
		ip = "localhost"
	}
	if err != nil {
		return "localhost", err
	}
	return ip, nil
}

// https://stackoverflow.com/a/23558495/15807350
func getInternalIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", errors.New("no internet connection")
	}
	defer conn.Close()
	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}

func GetPublicIP() (string, error) {
	resp, err := http.Get("https://api.ipify.org?format=text")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	ip, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(ip), nil
}
