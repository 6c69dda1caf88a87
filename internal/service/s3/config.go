package s3

import (
	"fmt"
)

// Config - параметры подключения к S3-совместимому хранилищу
type Config struct {
	Name            string `mapstructure:"Name"`
	Endpoint        string `mapstructure:"Endpoint"`
	Region          string `mapstructure:"Region"`
	Bucket          string `mapstructure:"Bucket"`
	Prefix          string `mapstructure:"Prefix"`
	AccessKeyID     string `mapstructure:"AccessKeyID"`
	SecretAccessKey string `mapstructure:"SecretAccessKey"`
	UsePathStyle    bool   `mapstructure:"UsePathStyle"`
}

// Validate проверяет, что все необходимые поля заполнены
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("Name is required")
	}
	if c.AccessKeyID == "" {
		return fmt.Errorf("AccessKeyID is required")
	}
	if c.SecretAccessKey == "" {
		return fmt.Errorf("SecretAccessKey is required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("Bucket is required")
	}
	return nil
}
