package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"

	"filevault/internal/service/s3"
)

// Виды каталогов и шины
const (
	KindMemory   = "memory"
	KindPostgres = "postgres"
	KindNone     = "none"

	StoreMemory = "memory"
	StoreDisk   = "disk"
)

type Config struct {
	Server     ServerConfig      `mapstructure:"Server"`
	Database   DatabaseConfig    `mapstructure:"Database"`
	Storage    StorageConfig     `mapstructure:"Storage"`
	S3         s3.Config         `mapstructure:"S3"`
	Bus        BusConfig         `mapstructure:"Bus"`
	Containers []ContainerConfig `mapstructure:"Containers"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"Port"`
	RequestTimeout  time.Duration `mapstructure:"RequestTimeout"`
	ShutdownTimeout time.Duration `mapstructure:"ShutdownTimeout"`
	AllowedOrigins  []string      `mapstructure:"AllowedOrigins"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"Host"`
	Port         string `mapstructure:"Port"`
	User         string `mapstructure:"User"`
	Password     string `mapstructure:"Password"`
	Name         string `mapstructure:"Name"`
	SSLMode      string `mapstructure:"SSLMode"`
	MaxOpenConns int    `mapstructure:"MaxOpenConns"`
	MaxIdleConns int    `mapstructure:"MaxIdleConns"`
}

// StorageConfig - параметры встроенных хранилищ содержимого
type StorageConfig struct {
	BlockSize     int    `mapstructure:"BlockSize"`
	MaxIdleBlocks int    `mapstructure:"MaxIdleBlocks"`
	DiskDir       string `mapstructure:"DiskDir"`
	HashAlgorithm string `mapstructure:"HashAlgorithm"`
}

type BusConfig struct {
	Kind          string        `mapstructure:"Kind"`
	RetryAttempts int           `mapstructure:"RetryAttempts"`
	RetryDelay    time.Duration `mapstructure:"RetryDelay"`
	RetryMaxDelay time.Duration `mapstructure:"RetryMaxDelay"`
	PollInterval  time.Duration `mapstructure:"PollInterval"`
}

// ContainerConfig связывает имя контейнера с видом каталога и именем хранилища
type ContainerConfig struct {
	Name      string `mapstructure:"Name"`
	Catalogue string `mapstructure:"Catalogue"`
	Store     string `mapstructure:"Store"`
}

func NewConfig(path string) (*Config, error) {
	v := viper.New()

	// Устанавливаем файл конфигурации
	v.SetConfigFile(path)

	// Привязываем переменные окружения
	v.BindEnv("Database.Host", "DATABASE_HOST")
	v.BindEnv("Database.Port", "DATABASE_PORT")
	v.BindEnv("Database.User", "DATABASE_USER")
	v.BindEnv("Database.Password", "DATABASE_PASSWORD")
	v.BindEnv("Database.Name", "DATABASE_NAME")
	v.BindEnv("Database.SSLMode", "DATABASE_SSLMODE")
	v.BindEnv("Server.Port", "HTTP_PORT")
	v.BindEnv("Storage.DiskDir", "STORAGE_DISK_DIR")
	v.BindEnv("Storage.HashAlgorithm", "STORAGE_HASH_ALGORITHM")
	v.BindEnv("S3.Name", "S3_NAME")
	v.BindEnv("S3.Endpoint", "S3_ENDPOINT")
	v.BindEnv("S3.Region", "S3_REGION")
	v.BindEnv("S3.Bucket", "S3_BUCKET")
	v.BindEnv("S3.AccessKeyID", "S3_ACCESS_KEY_ID")
	v.BindEnv("S3.SecretAccessKey", "S3_SECRET_ACCESS_KEY")
	v.BindEnv("Bus.Kind", "BUS_KIND")

	// Читаем конфигурацию из файла
	if err := v.ReadInConfig(); err != nil {
		log.Printf("[Config] Warning: using only environment variables: %v", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "2525"
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = 30 * time.Minute
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 5
	}

	if c.Storage.BlockSize <= 0 {
		c.Storage.BlockSize = 64 * 1024
	}
	if c.Storage.MaxIdleBlocks <= 0 {
		c.Storage.MaxIdleBlocks = 1024
	}

	c.Bus.Kind = strings.ToLower(c.Bus.Kind)
	if c.Bus.Kind == "" {
		c.Bus.Kind = KindMemory
	}
	if c.Bus.PollInterval <= 0 {
		c.Bus.PollInterval = time.Second
	}

	// Без явной настройки поднимается один контейнер в памяти
	if len(c.Containers) == 0 {
		c.Containers = []ContainerConfig{{Name: "default", Catalogue: KindMemory, Store: StoreMemory}}
	}
	for i := range c.Containers {
		c.Containers[i].Catalogue = strings.ToLower(c.Containers[i].Catalogue)
		if c.Containers[i].Catalogue == "" {
			c.Containers[i].Catalogue = KindMemory
		}
		if c.Containers[i].Store == "" {
			c.Containers[i].Store = StoreMemory
		}
	}
}

// Validate проверяет согласованность настроек
func (c *Config) Validate() error {
	switch c.Bus.Kind {
	case KindMemory, KindPostgres, KindNone:
	default:
		return fmt.Errorf("unsupported bus kind %q", c.Bus.Kind)
	}

	names := make(map[string]struct{}, len(c.Containers))
	for _, container := range c.Containers {
		if container.Name == "" {
			return fmt.Errorf("container name is required")
		}
		key := strings.ToLower(container.Name)
		if _, ok := names[key]; ok {
			return fmt.Errorf("duplicate container %q", container.Name)
		}
		names[key] = struct{}{}

		switch container.Catalogue {
		case KindMemory, KindPostgres:
		default:
			return fmt.Errorf("container %q: unsupported catalogue %q", container.Name, container.Catalogue)
		}

		switch {
		case strings.EqualFold(container.Store, StoreMemory):
		case strings.EqualFold(container.Store, StoreDisk):
			if c.Storage.DiskDir == "" {
				return fmt.Errorf("container %q uses the disk store, but Storage.DiskDir is empty", container.Name)
			}
		case c.S3.Name != "" && strings.EqualFold(container.Store, c.S3.Name):
			if err := c.S3.Validate(); err != nil {
				return fmt.Errorf("invalid S3 config: %w", err)
			}
		default:
			return fmt.Errorf("container %q: unknown store %q", container.Name, container.Store)
		}
	}

	if c.NeedsDatabase() {
		if c.Database.Host == "" ||
			c.Database.Port == "" ||
			c.Database.User == "" ||
			c.Database.Password == "" ||
			c.Database.Name == "" {
			return fmt.Errorf("database configuration is incomplete: host=%s, port=%s, user=%s, name=%s",
				c.Database.Host, c.Database.Port, c.Database.User, c.Database.Name)
		}
	}
	return nil
}

// NeedsDatabase сообщает, используется ли Postgres каталогом или шиной
func (c *Config) NeedsDatabase() bool {
	if c.Bus.Kind == KindPostgres {
		return true
	}
	for _, container := range c.Containers {
		if container.Catalogue == KindPostgres {
			return true
		}
	}
	return false
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

// GetURL возвращает строку подключения в формате URL для golang-migrate
func (c *DatabaseConfig) GetURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		c.SSLMode,
	)
}
