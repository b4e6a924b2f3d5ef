package config

import "time"

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer
	Currency    string `env:"CURRENCY" envDefault:"INR"`

	Database  Database  `envPrefix:"DATABASE_"`
	Redis     Redis     `envPrefix:"REDIS_"`
	Razorpay  Razorpay  `envPrefix:"RAZORPAY_"`
	Reconcile Reconcile `envPrefix:"RECONCILE_"`
	Kafka     Kafka     `envPrefix:"KAFKA_"`
	Auth      Auth      `envPrefix:"AUTH_"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host            string        `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port            string        `env:"HTTP_PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

type Database struct {
	Driver string `env:"DRIVER" envDefault:"mysql"` // mysql | sqlite
	URL    string `env:"URL"`
	Seed   bool   `env:"SEED" envDefault:"false"`
}

type Redis struct {
	Addr     string        `env:"ADDR"`
	Password string        `env:"PASSWORD"`
	DB       int           `env:"DB" envDefault:"0"`
	CartTTL  time.Duration `env:"CART_TTL" envDefault:"30m"`
}

type Razorpay struct {
	BaseApiURL    string        `env:"BASE_API_URL" envDefault:"https://api.razorpay.com"`
	KeyID         string        `env:"KEY_ID"`
	KeySecret     string        `env:"KEY_SECRET"`
	WebhookSecret string        `env:"WEBHOOK_SECRET"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// Configured reports whether API credentials are present.
func (r Razorpay) Configured() bool {
	return r.KeyID != "" && r.KeySecret != ""
}

type Reconcile struct {
	Enabled        bool          `env:"ENABLED" envDefault:"true"`
	Interval       time.Duration `env:"INTERVAL" envDefault:"5m"`
	GraceWindow    time.Duration `env:"GRACE_WINDOW" envDefault:"1m"`
	AbandonTimeout time.Duration `env:"ABANDON_TIMEOUT" envDefault:"60m"`
	BatchLimit     int           `env:"BATCH_LIMIT" envDefault:"50"`
}

type Kafka struct {
	Brokers []string `env:"BROKERS" envSeparator:","`
	Topic   string   `env:"TOPIC" envDefault:"order-events"`
}

type Auth struct {
	JWTSecret string `env:"JWT_SECRET"`
}
