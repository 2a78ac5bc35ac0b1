// Package config provides configuration management for assetforge using
// Viper for loading from files, environment variables, and command-line
// flags.
//
// A Config is built once at startup and passed by pointer to every
// component. It must be treated as read-only after Load returns; slice
// accessors hand out copies.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

type Config struct {
	Paths  PathsConfig  `mapstructure:"paths"`
	Assets AssetsConfig `mapstructure:"assets"`
	Server ServerConfig `mapstructure:"server"`
	Watch  WatchConfig  `mapstructure:"watch"`
	Log    LogConfig    `mapstructure:"log"`
}

// PathsConfig maps every logical role to a filesystem path. Empty roles are
// derived from Src, Dist and Vendor.
type PathsConfig struct {
	Src          string `mapstructure:"src"`
	Dist         string `mapstructure:"dist"`
	Styles       string `mapstructure:"styles"`
	Scripts      string `mapstructure:"scripts"`
	Images       string `mapstructure:"images"`
	Vendor       string `mapstructure:"vendor"`
	UIComponents string `mapstructure:"ui_components"`
	Fonts        string `mapstructure:"fonts"`
	CSSOut       string `mapstructure:"css_out"`
	JSOut        string `mapstructure:"js_out"`
	FontsOut     string `mapstructure:"fonts_out"`
	ImagesOut    string `mapstructure:"images_out"`
}

type AssetsConfig struct {
	StyleBundle  string `mapstructure:"style_bundle"`
	ScriptBundle string `mapstructure:"script_bundle"`
	// VendorScripts are relative to Paths.Vendor and come first in the bundle.
	VendorScripts []string `mapstructure:"vendor_scripts"`
	// UIScripts are relative to Paths.UIComponents and follow the vendor
	// scripts in the listed order.
	UIScripts    []string `mapstructure:"ui_scripts"`
	ScriptGlob   string   `mapstructure:"script_glob"`
	StyleGlob    string   `mapstructure:"style_glob"`
	MarkupGlob   string   `mapstructure:"markup_glob"`
	TemplateGlob string   `mapstructure:"template_glob"`
	ImageGlob    string   `mapstructure:"image_glob"`
	FontGlob     string   `mapstructure:"font_glob"`
	// Targets are browser engines used for prefixing, e.g. "ie9", "chrome120".
	Targets     []string `mapstructure:"targets"`
	SassCommand string   `mapstructure:"sass_command"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// Proxy is the backend served through the development server, as
	// host:port or URL. Empty serves Paths.Dist directly.
	Proxy  string `mapstructure:"proxy"`
	Open   bool   `mapstructure:"open"`
	Notify bool   `mapstructure:"notify"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
	Ignore   []string      `mapstructure:"ignore"`
	Rules    []WatchRule   `mapstructure:"rules"`
}

// WatchRule binds a glob pattern to the task re-run when a match changes.
type WatchRule struct {
	Pattern string `mapstructure:"pattern"`
	Task    string `mapstructure:"task"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultUIScripts is the fixed component script order of the vendor UI kit.
var DefaultUIScripts = []string{
	"affix.js",
	"alert.js",
	"button.js",
	"carousel.js",
	"collapse.js",
	"dropdown.js",
	"tab.js",
	"transition.js",
	"scrollspy.js",
	"modal.js",
	"tooltip.js",
	"popover.js",
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("paths.src", "./src")
	v.SetDefault("paths.dist", "./dist")

	v.SetDefault("assets.style_bundle", "main.min.css")
	v.SetDefault("assets.script_bundle", "main.min.js")
	v.SetDefault("assets.vendor_scripts", []string{"jquery/dist/jquery.min.js"})
	v.SetDefault("assets.ui_scripts", DefaultUIScripts)
	v.SetDefault("assets.script_glob", "**/*.js")
	v.SetDefault("assets.style_glob", "**/*.{scss,sass}")
	v.SetDefault("assets.markup_glob", "**/*.html")
	v.SetDefault("assets.template_glob", "**/*.php")
	v.SetDefault("assets.image_glob", "**/*.{jpeg,jpg,png}")
	v.SetDefault("assets.font_glob", "**/*")
	v.SetDefault("assets.targets", []string{"ie9", "chrome120", "firefox120", "safari17", "edge120"})
	v.SetDefault("assets.sass_command", "sass")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.proxy", "127.0.0.1:8000")
	v.SetDefault("server.open", true)
	v.SetDefault("server.notify", true)

	v.SetDefault("watch.debounce", "0s")
	v.SetDefault("watch.ignore", []string{"**/node_modules/**", "**/.git/**"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load builds the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom builds and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&config, hook); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	config.Paths.derive()

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// derive fills the roles that were not set explicitly.
func (p *PathsConfig) derive() {
	p.Src = filepath.Clean(p.Src)
	p.Dist = filepath.Clean(p.Dist)

	orJoin := func(value *string, elem ...string) {
		if *value == "" {
			*value = filepath.Join(elem...)
		} else {
			*value = filepath.Clean(*value)
		}
	}

	orJoin(&p.Styles, p.Src, "scss")
	orJoin(&p.Scripts, p.Src, "js")
	orJoin(&p.Images, p.Src, "images")
	orJoin(&p.Vendor, p.Src, "bower_components")
	orJoin(&p.UIComponents, p.Vendor, "bootstrap-sass", "assets", "javascripts", "bootstrap")
	orJoin(&p.Fonts, p.Vendor, "bootstrap-sass", "assets", "fonts")
	orJoin(&p.CSSOut, p.Dist, "assets", "css")
	orJoin(&p.JSOut, p.Dist, "assets", "js")
	orJoin(&p.FontsOut, p.Dist, "assets", "fonts")
	orJoin(&p.ImagesOut, p.Dist, "images")
}

// ScriptInputs returns the fixed part of the script bundle order: vendor
// scripts followed by UI component scripts. The application glob is
// appended by the script build.
func (c *Config) ScriptInputs() []string {
	inputs := make([]string, 0, len(c.Assets.VendorScripts)+len(c.Assets.UIScripts))
	for _, script := range c.Assets.VendorScripts {
		inputs = append(inputs, filepath.Join(c.Paths.Vendor, script))
	}
	for _, script := range c.Assets.UIScripts {
		inputs = append(inputs, filepath.Join(c.Paths.UIComponents, script))
	}
	return inputs
}

// Targets returns a copy of the configured browser targets.
func (c *Config) Targets() []string {
	return append([]string(nil), c.Assets.Targets...)
}

// WatchRules returns a copy of the user-defined watch rules.
func (c *Config) WatchRules() []WatchRule {
	return append([]WatchRule(nil), c.Watch.Rules...)
}

// ServerURL is the address the development server is reachable at.
func (c *Config) ServerURL() string {
	return fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
}
