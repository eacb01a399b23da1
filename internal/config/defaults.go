package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/mtiwari1/tradeflow/internal/intake"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Transport
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("grpc.addr", ":50051")

	// Intake
	v.SetDefault("upload.dir", "./data")
	v.SetDefault("upload.max_size", intake.DefaultMaxSize) // 10 MiB
	v.SetDefault("upload.accepted_types", []string{
		intake.MediaTypePDF,
		intake.MediaTypeEmail,
		intake.MediaTypeText,
	})

	// Progress policy
	v.SetDefault("pipeline.upload_step", 10)
	v.SetDefault("pipeline.upload_interval", 200*time.Millisecond)
	v.SetDefault("pipeline.processing_step", 15)
	v.SetDefault("pipeline.processing_interval", 500*time.Millisecond)
	v.SetDefault("pipeline.workers", 5)

	// Credits
	v.SetDefault("credit.overdraft", "clamp")
	v.SetDefault("credit.default_quota", 10)

	// Backends. Empty values still need a default so env vars bind on Unmarshal.
	v.SetDefault("db.dsn", "root:password@tcp(127.0.0.1:3306)/tradeflow?parseTime=true")
	v.SetDefault("db.migrate", true)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("extract.backend", "simulated")
	v.SetDefault("extract.latency", 300*time.Millisecond)
	v.SetDefault("extract.project", "")
	v.SetDefault("extract.region", "us-central1")
	v.SetDefault("extract.model", "gemini-1.5-pro")

	v.SetDefault("archive.bucket", "") // empty disables archiving

	v.SetDefault("ratelimit.uploads_per_minute", 30)

	v.SetDefault("log.level", "info")
}
