// Package config loads environment variables (and an optional TOML file) into the
// typed Config used across the archiver. Defaults let a dry run work with only the
// Twitch credentials and a recordings directory set; Validate reports the settings a
// real run cannot start without.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Matching policies accepted by MATCH_POLICY.
const (
	PolicyMultiPart = "multipart"
	PolicyExclusive = "exclusive"
)

// Part orderings accepted by PART_ORDER.
const (
	OrderModTime = "mtime"
	OrderName    = "name"
)

// Chat failure policies accepted by CHAT_FAILURE_POLICY.
const (
	ChatSkipVOD = "skip-vod"
	ChatAbort   = "abort"
)

type Config struct {
	// Recordings
	RecordingsDir       string
	MinRecordingAge     time.Duration
	MaxRecordingsPerRun int

	// Twitch
	TwitchChannelLogin string
	TwitchClientID     string
	TwitchClientSecret string
	VODListPageSize    int

	// Matching
	MatchWindow time.Duration
	MatchPolicy string
	PartOrder   string

	// YouTube
	YTClientSecretPath string
	YTTokenPath        string
	YTPrivacyStatus    string
	YTCategoryID       string
	YTCategoryRegion   string
	YTNotify           bool

	// Archive outputs
	ArchiveSiteURL string
	VodsDataPath   string
	CommentsDir    string
	EmotesDir      string
	StatePath      string
	TmpDir         string
	TmpRetention   time.Duration

	// Chat export
	TwitchDownloaderPath string
	ChatFailurePolicy    string

	// Run behaviour
	DryRun         bool
	PublishCommand string

	// Optional integrations
	DBDsn          string
	EncryptionKey  string
	PushgatewayURL string
}

// fileConfig mirrors the TOML layout of ARCHIVER_CONFIG. Every key is optional and is
// overridden by the matching environment variable.
type fileConfig struct {
	Recordings struct {
		Dir                 string `toml:"dir"`
		MinAgeMinutes       *int   `toml:"min_age_minutes"`
		MaxRecordingsPerRun *int   `toml:"max_per_run"`
	} `toml:"recordings"`
	Twitch struct {
		ChannelLogin string `toml:"channel_login"`
		ClientID     string `toml:"client_id"`
		ClientSecret string `toml:"client_secret"`
		PageSize     int    `toml:"page_size"`
	} `toml:"twitch"`
	Matching struct {
		Window string `toml:"window"`
		Policy string `toml:"policy"`
		Order  string `toml:"part_order"`
	} `toml:"matching"`
	YouTube struct {
		ClientSecretPath  string `toml:"client_secret_path"`
		TokenPath         string `toml:"token_path"`
		PrivacyStatus     string `toml:"privacy_status"`
		CategoryID        string `toml:"category_id"`
		CategoryRegion    string `toml:"category_region_code"`
		NotifySubscribers *bool  `toml:"notify_subscribers"`
	} `toml:"youtube"`
	Archive struct {
		SiteURL      string `toml:"site_url"`
		VodsPath     string `toml:"vods_path"`
		CommentsDir  string `toml:"comments_dir"`
		EmotesDir    string `toml:"emotes_dir"`
		StatePath    string `toml:"state_path"`
		TmpDir       string `toml:"tmp_dir"`
		TmpRetention string `toml:"tmp_retention"`
	} `toml:"archive"`
	Chat struct {
		DownloaderPath string `toml:"downloader_path"`
		FailurePolicy  string `toml:"failure_policy"`
	} `toml:"chat"`
	PublishCommand string `toml:"publish_command"`
	DBDsn          string `toml:"db_dsn"`
	PushgatewayURL string `toml:"pushgateway_url"`
}

// Load reads ARCHIVER_CONFIG (when set) and then the environment, applying defaults.
// It does not fail on missing credentials; call Validate before doing real work.
func Load() (*Config, error) {
	var fc fileConfig
	if path := os.Getenv("ARCHIVER_CONFIG"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read ARCHIVER_CONFIG: %w", err)
		}
		if err := toml.Unmarshal(b, &fc); err != nil {
			return nil, fmt.Errorf("parse ARCHIVER_CONFIG %s: %w", path, err)
		}
	}

	cfg := &Config{}
	cfg.RecordingsDir = str("LOCAL_RECORDINGS_DIR", fc.Recordings.Dir, "")
	cfg.TwitchChannelLogin = str("TWITCH_CHANNEL_LOGIN", fc.Twitch.ChannelLogin, "")
	cfg.TwitchClientID = str("TWITCH_CLIENT_ID", fc.Twitch.ClientID, "")
	cfg.TwitchClientSecret = str("TWITCH_CLIENT_SECRET", fc.Twitch.ClientSecret, "")

	minAge := 10
	if fc.Recordings.MinAgeMinutes != nil {
		minAge = *fc.Recordings.MinAgeMinutes
	}
	n, err := integer("MIN_RECORDING_AGE_MINUTES", minAge)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("invalid MIN_RECORDING_AGE_MINUTES: %d", n)
	}
	cfg.MinRecordingAge = time.Duration(n) * time.Minute

	maxPerRun := 1
	if fc.Recordings.MaxRecordingsPerRun != nil {
		maxPerRun = *fc.Recordings.MaxRecordingsPerRun
	}
	if cfg.MaxRecordingsPerRun, err = integer("MAX_RECORDINGS_PER_RUN", maxPerRun); err != nil {
		return nil, err
	}

	pageSize := 20
	if fc.Twitch.PageSize > 0 {
		pageSize = fc.Twitch.PageSize
	}
	if cfg.VODListPageSize, err = integer("VOD_LIST_PAGE_SIZE", pageSize); err != nil {
		return nil, err
	}
	if cfg.VODListPageSize <= 0 || cfg.VODListPageSize > 100 {
		return nil, fmt.Errorf("invalid VOD_LIST_PAGE_SIZE: %d (1-100)", cfg.VODListPageSize)
	}

	window := str("MATCH_WINDOW", fc.Matching.Window, "48h")
	d, err := time.ParseDuration(window)
	if err != nil || d <= 0 {
		return nil, fmt.Errorf("invalid MATCH_WINDOW %q", window)
	}
	cfg.MatchWindow = d
	cfg.MatchPolicy = strings.ToLower(str("MATCH_POLICY", fc.Matching.Policy, PolicyMultiPart))
	if cfg.MatchPolicy != PolicyMultiPart && cfg.MatchPolicy != PolicyExclusive {
		return nil, fmt.Errorf("invalid MATCH_POLICY %q (multipart|exclusive)", cfg.MatchPolicy)
	}
	cfg.PartOrder = strings.ToLower(str("PART_ORDER", fc.Matching.Order, OrderModTime))
	if cfg.PartOrder != OrderModTime && cfg.PartOrder != OrderName {
		return nil, fmt.Errorf("invalid PART_ORDER %q (mtime|name)", cfg.PartOrder)
	}

	cfg.YTClientSecretPath = str("YOUTUBE_CLIENT_SECRET_PATH", fc.YouTube.ClientSecretPath, filepath.Join("secrets", "youtube_client_secret.json"))
	cfg.YTTokenPath = str("YOUTUBE_TOKEN_PATH", fc.YouTube.TokenPath, filepath.Join("secrets", "youtube_token.json"))
	cfg.YTPrivacyStatus = str("YOUTUBE_PRIVACY_STATUS", fc.YouTube.PrivacyStatus, "private")
	cfg.YTCategoryID = str("YOUTUBE_CATEGORY_ID", fc.YouTube.CategoryID, "20")
	cfg.YTCategoryRegion = str("YOUTUBE_CATEGORY_REGION_CODE", fc.YouTube.CategoryRegion, "US")
	notify := true
	if fc.YouTube.NotifySubscribers != nil {
		notify = *fc.YouTube.NotifySubscribers
	}
	if cfg.YTNotify, err = boolean("YOUTUBE_NOTIFY_SUBSCRIBERS", notify); err != nil {
		return nil, err
	}

	cfg.ArchiveSiteURL = strings.TrimRight(str("ARCHIVE_SITE_URL", fc.Archive.SiteURL, "https://softlynn.github.io/soft-site"), "/")
	cfg.VodsDataPath = str("ARCHIVE_VODS_PATH", fc.Archive.VodsPath, filepath.Join("public", "data", "vods.json"))
	cfg.CommentsDir = str("ARCHIVE_COMMENTS_DIR", fc.Archive.CommentsDir, filepath.Join("public", "data", "comments"))
	cfg.EmotesDir = str("ARCHIVE_EMOTES_DIR", fc.Archive.EmotesDir, filepath.Join("public", "data", "emotes"))
	cfg.StatePath = str("PIPELINE_STATE_PATH", fc.Archive.StatePath, filepath.Join(".state", "pipeline-state.json"))
	cfg.TmpDir = str("PIPELINE_TMP_DIR", fc.Archive.TmpDir, filepath.Join(".tmp"))
	retention := str("PIPELINE_TMP_RETENTION", fc.Archive.TmpRetention, "72h")
	if cfg.TmpRetention, err = time.ParseDuration(retention); err != nil || cfg.TmpRetention < 0 {
		return nil, fmt.Errorf("invalid PIPELINE_TMP_RETENTION %q", retention)
	}

	cfg.TwitchDownloaderPath = str("TWITCHDOWNLOADER_PATH", fc.Chat.DownloaderPath, "TwitchDownloaderCLI")
	cfg.ChatFailurePolicy = strings.ToLower(str("CHAT_FAILURE_POLICY", fc.Chat.FailurePolicy, ChatSkipVOD))
	if cfg.ChatFailurePolicy != ChatSkipVOD && cfg.ChatFailurePolicy != ChatAbort {
		return nil, fmt.Errorf("invalid CHAT_FAILURE_POLICY %q (skip-vod|abort)", cfg.ChatFailurePolicy)
	}

	cfg.DryRun = strings.EqualFold(os.Getenv("LOCAL_PIPELINE_DRY_RUN"), "true") || os.Getenv("LOCAL_PIPELINE_DRY_RUN") == "1"
	cfg.PublishCommand = str("PUBLISH_COMMAND", fc.PublishCommand, "")
	cfg.DBDsn = str("DB_DSN", fc.DBDsn, "")
	cfg.EncryptionKey = os.Getenv("ENCRYPTION_KEY")
	cfg.PushgatewayURL = str("PUSHGATEWAY_URL", fc.PushgatewayURL, "")

	return cfg, nil
}

// ErrMissingConfig is wrapped by Validate so callers can tell configuration errors apart.
var ErrMissingConfig = errors.New("missing required configuration")

// Validate checks settings every run needs before touching the network.
func (c *Config) Validate() error {
	var missing []string
	for _, kv := range []struct{ name, value string }{
		{"TWITCH_CLIENT_ID", c.TwitchClientID},
		{"TWITCH_CLIENT_SECRET", c.TwitchClientSecret},
		{"TWITCH_CHANNEL_LOGIN", c.TwitchChannelLogin},
		{"LOCAL_RECORDINGS_DIR", c.RecordingsDir},
		{"YOUTUBE_CLIENT_SECRET_PATH", c.YTClientSecretPath},
	} {
		if kv.value == "" {
			missing = append(missing, kv.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}
	fi, err := os.Stat(c.RecordingsDir)
	if err != nil {
		return fmt.Errorf("recording directory does not exist: %s: %w", c.RecordingsDir, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("recording directory is not a directory: %s", c.RecordingsDir)
	}
	return nil
}

func str(env, fromFile, def string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	if fromFile != "" {
		return fromFile
	}
	return def
}

func boolean(env string, def bool) (bool, error) {
	v := os.Getenv(env)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s (boolean): %w", env, err)
	}
	return b, nil
}

func integer(env string, def int) (int, error) {
	v := os.Getenv(env)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s (integer): %w", env, err)
	}
	return n, nil
}
