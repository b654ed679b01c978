package configs

import "github.com/spf13/viper"

// SMTPConfig 邮件中继，供通知类外部脚本读取.
type SMTPConfig struct {
	Server string `mapstructure:"server"`
	From   string `mapstructure:"from"`
}

func (c *SMTPConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("smtp.server", "localhost")
	v.SetDefault("smtp.from", "fitsdata@localhost")
}
