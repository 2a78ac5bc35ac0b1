package config

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/conneroisu/assetforge/internal/glob"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

func invalid(field string, value interface{}, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Value: value, Message: fmt.Sprintf(format, args...)}
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validatePaths(&config.Paths); err != nil {
		return err
	}
	if err := validateAssets(&config.Assets); err != nil {
		return err
	}
	if err := validateServer(&config.Server); err != nil {
		return err
	}
	return validateWatch(&config.Watch)
}

func validatePaths(paths *PathsConfig) error {
	if paths.Dist == "" || paths.Dist == "." || paths.Dist == string(filepath.Separator) {
		return invalid("paths.dist", paths.Dist, "dist must be a dedicated directory")
	}

	src, err := filepath.Abs(paths.Src)
	if err != nil {
		return invalid("paths.src", paths.Src, "cannot resolve: %v", err)
	}
	dist, err := filepath.Abs(paths.Dist)
	if err != nil {
		return invalid("paths.dist", paths.Dist, "cannot resolve: %v", err)
	}

	// clean removes dist recursively, so it must never contain the sources.
	if within(src, dist) {
		return invalid("paths.dist", paths.Dist, "dist %s contains the source directory %s", paths.Dist, paths.Src)
	}

	for field, value := range map[string]string{
		"paths.css_out":    paths.CSSOut,
		"paths.js_out":     paths.JSOut,
		"paths.fonts_out":  paths.FontsOut,
		"paths.images_out": paths.ImagesOut,
	} {
		if err := validatePath(value); err != nil {
			return invalid(field, value, "%v", err)
		}
	}
	return nil
}

// within reports whether child is parent or lies below it.
func within(child, parent string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func validateAssets(assets *AssetsConfig) error {
	for field, name := range map[string]string{
		"assets.style_bundle":  assets.StyleBundle,
		"assets.script_bundle": assets.ScriptBundle,
	} {
		if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
			return invalid(field, name, "bundle name must be a plain file name")
		}
	}

	for field, pattern := range map[string]string{
		"assets.script_glob":   assets.ScriptGlob,
		"assets.style_glob":    assets.StyleGlob,
		"assets.markup_glob":   assets.MarkupGlob,
		"assets.template_glob": assets.TemplateGlob,
		"assets.image_glob":    assets.ImageGlob,
		"assets.font_glob":     assets.FontGlob,
	} {
		if err := glob.Validate(pattern); err != nil {
			return invalid(field, pattern, "%v", err)
		}
	}

	for _, script := range append(append([]string(nil), assets.VendorScripts...), assets.UIScripts...) {
		if err := validatePath(script); err != nil {
			return invalid("assets.scripts", script, "%v", err)
		}
	}

	if strings.TrimSpace(assets.SassCommand) == "" {
		return invalid("assets.sass_command", assets.SassCommand, "command is required")
	}
	return nil
}

func validateServer(server *ServerConfig) error {
	// Port 0 lets the system pick one, which tests rely on.
	if server.Port < 0 || server.Port > 65535 {
		return invalid("server.port", server.Port, "port %d is not in valid range 0-65535", server.Port)
	}

	if server.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\", "/"}
		for _, char := range dangerousChars {
			if strings.Contains(server.Host, char) {
				return invalid("server.host", server.Host, "host contains dangerous character: %s", char)
			}
		}
	}

	if server.Proxy != "" {
		if _, err := ProxyURL(server.Proxy); err != nil {
			return invalid("server.proxy", server.Proxy, "%v", err)
		}
	}
	return nil
}

func validateWatch(watch *WatchConfig) error {
	if watch.Debounce < 0 {
		return invalid("watch.debounce", watch.Debounce, "debounce must not be negative")
	}
	for _, pattern := range watch.Ignore {
		if err := glob.Validate(pattern); err != nil {
			return invalid("watch.ignore", pattern, "%v", err)
		}
	}
	for i, rule := range watch.Rules {
		if err := glob.Validate(rule.Pattern); err != nil {
			return invalid(fmt.Sprintf("watch.rules[%d].pattern", i), rule.Pattern, "%v", err)
		}
		if strings.TrimSpace(rule.Task) == "" {
			return invalid(fmt.Sprintf("watch.rules[%d].task", i), rule.Task, "task is required")
		}
	}
	return nil
}

// ProxyURL parses the proxy setting, accepting a bare host:port.
func ProxyURL(proxy string) (*url.URL, error) {
	raw := proxy
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("proxy scheme %q is not supported", u.Scheme)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		return nil, fmt.Errorf("proxy must include host and port: %w", err)
	}
	if host == "" {
		return nil, fmt.Errorf("proxy host is empty")
	}
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return nil, fmt.Errorf("proxy port %q is invalid", port)
	}
	return u, nil
}

// validatePath validates a relative file path for security
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)
	for _, part := range strings.Split(filepath.ToSlash(cleanPath), "/") {
		if part == ".." {
			return fmt.Errorf("path contains traversal: %s", path)
		}
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
