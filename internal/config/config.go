package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	ConfigFile    string `mapstructure:"-"`

	Stack struct {
		Name         string `mapstructure:"name" validate:"required"`
		Account      string `mapstructure:"account" validate:"omitempty,len=12,numeric"`
		Region       string `mapstructure:"region"`
		Timezone     string `mapstructure:"timezone" validate:"required,timezone"`
		TopicName    string `mapstructure:"topic_name" validate:"required"`
		DocumentName string `mapstructure:"document_name" validate:"required"`
		Runtime      string `mapstructure:"runtime" validate:"required"`
		Handler      string `mapstructure:"handler" validate:"required"`
		AssetDir     string `mapstructure:"asset_dir" validate:"required"`
		AssetBucket  string `mapstructure:"asset_bucket"`
		Tags         []Tag  `mapstructure:"tags" validate:"dive"`
	} `mapstructure:"stack"`
	IdentityCenter struct {
		InstanceARN      string `mapstructure:"instance_arn" validate:"required,startswith=arn:"`
		PermissionSetARN string `mapstructure:"permission_set_arn" validate:"required,startswith=arn:"`
		IdentityStoreID  string `mapstructure:"identity_store_id" validate:"required"`
	} `mapstructure:"identity_center"`
	Approval struct {
		ApproverARN       string `mapstructure:"approver_arn" validate:"required,startswith=arn:"`
		NotificationEmail string `mapstructure:"notification_email" validate:"required,email"`
		Message           string `mapstructure:"message"`
	} `mapstructure:"approval"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Auth struct {
		OktaDomain   string `mapstructure:"okta_domain"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
		RedirectURL  string `mapstructure:"redirect_url"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
	Server struct {
		Addr    string `mapstructure:"addr"`
		TLSAddr string `mapstructure:"tls_addr"`
	} `mapstructure:"server"`
}

// Tag is a resource tag. Tags are kept as a list because viper folds map
// keys to lower case.
type Tag struct {
	Key   string `mapstructure:"key" validate:"required"`
	Value string `mapstructure:"value"`
}

// DefaultTags are applied to the runbook when no tags are configured.
var DefaultTags = []Tag{{Key: "myTag", Value: "myValue"}}

// envBindings maps config keys onto the environment variables the original
// deployment scripts use.
var envBindings = map[string]string{
	"approval.approver_arn":              "APPROVER_ROLE_ARN",
	"approval.notification_email":        "SNS_SUB_EMAIL",
	"identity_center.instance_arn":       "IAM_IDENTITYCENTER_ARN",
	"identity_center.permission_set_arn": "ADMIN_PERMISSIONSET_ARN",
	"identity_center.identity_store_id":  "IAM_IDENTITYCENTER_IDSTORE_ID",
	"stack.account":                      "CDK_DEFAULT_ACCOUNT",
	"stack.region":                       "CDK_DEFAULT_REGION",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "PROD")
	v.SetDefault("stack.name", "CdkIamIdentityCenterTemporaryAccessStack")
	v.SetDefault("stack.timezone", "Asia/Tokyo")
	v.SetDefault("stack.topic_name", "AutomationSnsTopic")
	v.SetDefault("stack.document_name", "TemporaryPrivilegeWorkflow")
	v.SetDefault("stack.runtime", "python3.9")
	v.SetDefault("stack.handler", "lambda_function.lambda_handler")
	v.SetDefault("stack.asset_dir", "lambda_src")
	v.SetDefault("approval.message", "Do you approve?")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.tls_addr", ":8443")
}

// LoadConfig loads the configuration from a file and the environment. If
// envFile is set, its variables are loaded into the process environment
// first; otherwise a .env in the working directory is used when present.
func LoadConfig(envFile string) (*Config, error) {
	return load(viper.New(), []string{".", "./config"}, envFile)
}

func load(v *viper.Viper, paths []string, envFile string) (*Config, error) {
	if err := loadDotEnv(envFile); err != nil {
		return nil, err
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	config.ConfigFile = v.ConfigFileUsed()
	if len(config.Stack.Tags) == 0 {
		config.Stack.Tags = append([]Tag(nil), DefaultTags...)
	}

	// normalize OKTA issuer url (strip trailing slash if any)
	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)

	return &config, nil
}

// Validate checks the settings required to synthesize the stack.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// TagMap returns the stack tags keyed by name.
func (c *Config) TagMap() map[string]string {
	tags := make(map[string]string, len(c.Stack.Tags))
	for _, t := range c.Stack.Tags {
		tags[t.Key] = t.Value
	}
	return tags
}

// DSN returns the Postgres connection string for the db section.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

// IsDev reports whether the service runs in the DEV environment.
func (c *Config) IsDev() bool {
	return strings.ToUpper(c.Environment) == "DEV"
}

func loadDotEnv(envFile string) error {
	if envFile == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("load env file %s: %w", envFile, err)
	}
	return nil
}

// normalizeOktaIssuer ensures the provided Okta issuer string is in a
// predictable form. It removes any trailing slash and leaves the scheme and
// path intact.
func normalizeOktaIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
