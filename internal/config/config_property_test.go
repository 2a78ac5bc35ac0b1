//go:build property
// +build property

package config

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestConfigurationProperties tests validation properties of the settings
func TestConfigurationProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("server port validates iff it is in range", prop.ForAll(
		func(port int) bool {
			err := validateServer(&ServerConfig{Host: "localhost", Port: port})
			return (err == nil) == (port >= 0 && port <= 65535)
		},
		gen.IntRange(-1000, 70000),
	))

	properties.Property("bare host:port proxies parse as http", prop.ForAll(
		func(port int) bool {
			u, err := ProxyURL(fmt.Sprintf("127.0.0.1:%d", port))
			if port <= 0 || port > 65535 {
				return err != nil
			}
			return err == nil && u.Scheme == "http" && u.Port() == fmt.Sprint(port)
		},
		gen.IntRange(-10, 70000),
	))

	properties.Property("paths with a parent segment are rejected", prop.ForAll(
		func(segments []string) bool {
			parts := append([]string{".."}, segments...)
			return validatePath(filepath.Join(parts...)) != nil
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("dist never contains src", prop.ForAll(
		func(child string) bool {
			if child == "" {
				return true
			}
			paths := PathsConfig{Src: filepath.Join("project", child), Dist: "project"}
			paths.derive()
			return validatePaths(&paths) != nil
		},
		gen.Identifier(),
	))

	properties.Property("derived roles live under src and dist", prop.ForAll(
		func(src, dist string) bool {
			if src == "" || dist == "" || src == dist {
				return true
			}
			paths := PathsConfig{Src: src, Dist: dist}
			paths.derive()
			return within(paths.Styles, paths.Src) &&
				within(paths.Fonts, paths.Vendor) &&
				within(paths.CSSOut, paths.Dist) &&
				within(paths.ImagesOut, paths.Dist)
		},
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}
