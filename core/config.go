package core

import (
	"fmt"
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Env      string // DEV (local; default), TEST, QA, PROD
	Build    string
	Debug    bool
	TestMode bool
	WorkDir  string

	AppName          string
	SecretKey        string
	FrontendBaseURL  string
	RollbarToken     string
	SendgridApiKey   string
	defaultFromEmail string

	PasswordResetTimeout time.Duration
	PasswordHashCost     int

	Server struct {
		Host                      string
		Address                   string
		DebugHost                 string
		ReadTimeout               time.Duration
		WriteTimeout              time.Duration
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	Database struct {
		Engine        string // postgres | sqlite3
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		Path          string // sqlite3 only
	}
}

// NewConfig loads the configuration from (in order of precedence) the environment,
// the optional config/.env.<env> file and the defaults below.
func NewConfig() *Config {
	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}

	v := viper.New()
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetTypeByDefaultValue(true)

	// defaults
	v.SetDefault("build", "dev")
	v.SetDefault("debug", env == "DEV")
	v.SetDefault("testMode", env == "TEST")
	v.SetDefault("appName", "Peer Eval")
	v.SetDefault("secretKey", "kq9+dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy-poq5-wer)enb$")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("passwordResetTimeout", time.Hour)
	v.SetDefault("passwordHashCost", 10)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.readTimeout", 5*time.Second)
	v.SetDefault("server.writeTimeout", 10*time.Second)
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 24*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 7*24*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "peereval")
	v.SetDefault("database.user", "peereval")
	v.SetDefault("database.password", "peereval")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", true)
	v.SetDefault("database.path", "peereval.db")

	wd := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := &Config{
		Env:                  env,
		Build:                v.GetString("build"),
		Debug:                v.GetBool("debug"),
		TestMode:             v.GetBool("testMode"),
		WorkDir:              wd,
		AppName:              v.GetString("appName"),
		SecretKey:            v.GetString("secretKey"),
		FrontendBaseURL:      strings.TrimRight(v.GetString("frontendBaseURL"), "/"),
		RollbarToken:         v.GetString("rollbarToken"),
		SendgridApiKey:       v.GetString("sendgridApiKey"),
		defaultFromEmail:     v.GetString("defaultFromEmail"),
		PasswordResetTimeout: v.GetDuration("passwordResetTimeout"),
		PasswordHashCost:     v.GetInt("passwordHashCost"),
	}

	conf.Server.Host = v.GetString("server.host")
	conf.Server.Address = v.GetString("server.address")
	conf.Server.DebugHost = v.GetString("server.debugHost")
	conf.Server.ReadTimeout = v.GetDuration("server.readTimeout")
	conf.Server.WriteTimeout = v.GetDuration("server.writeTimeout")
	conf.Server.ShutdownTimeout = v.GetDuration("server.shutdownTimeout")
	conf.Server.JWTExpirationDelta = v.GetDuration("server.jwtExpirationDelta")
	conf.Server.JWTRefreshExpirationDelta = v.GetDuration("server.jwtRefreshExpirationDelta")

	conf.Database.Engine = v.GetString("database.engine")
	conf.Database.Host = v.GetString("database.host")
	conf.Database.Port = v.GetInt("database.port")
	conf.Database.Name = v.GetString("database.name")
	conf.Database.User = v.GetString("database.user")
	conf.Database.Password = v.GetString("database.password")
	conf.Database.AdminUser = v.GetString("database.adminUser")
	conf.Database.AdminPassword = v.GetString("database.adminPassword")
	conf.Database.DisableTLS = v.GetBool("database.disableTLS")
	conf.Database.Path = v.GetString("database.path")

	return conf
}

// NewTestConfig returns a Config suitable for tests: in-memory sqlite, cheap password hashing.
func NewTestConfig() *Config {
	conf := &Config{
		Env:                  "TEST",
		Build:                "test",
		TestMode:             true,
		WorkDir:              Getwd(),
		AppName:              "Peer Eval",
		SecretKey:            "test-secret",
		FrontendBaseURL:      "http://localhost:3000",
		defaultFromEmail:     "noreply@localhost",
		PasswordResetTimeout: time.Hour,
		PasswordHashCost:     4, // bcrypt.MinCost
	}
	conf.Server.Host = "localhost"
	conf.Server.JWTExpirationDelta = 10 * time.Minute
	conf.Server.JWTRefreshExpirationDelta = 4 * time.Hour
	conf.Database.Engine = "sqlite3"
	conf.Database.Path = ":memory:"
	return conf
}

func (c *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: c.AppName, Address: c.defaultFromEmail}
}

// Getwd returns the working directory, or the value of WORK_DIR when set.
func Getwd() string {
	if wd := os.Getenv("WORK_DIR"); wd != "" {
		return wd
	}
	wd, err := os.Getwd()
	if err != nil {
		panic(fmt.Sprintf("core.Getwd(): %v", err))
	}
	return wd
}
