package assets

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

var targetPattern = regexp.MustCompile(`^([a-z]+)\s*(\d+(?:\.\d+)*)$`)

var engineNames = map[string]api.EngineName{
	"chrome":  api.EngineChrome,
	"deno":    api.EngineDeno,
	"edge":    api.EngineEdge,
	"firefox": api.EngineFirefox,
	"hermes":  api.EngineHermes,
	"ie":      api.EngineIE,
	"ios":     api.EngineIOS,
	"node":    api.EngineNode,
	"opera":   api.EngineOpera,
	"rhino":   api.EngineRhino,
	"safari":  api.EngineSafari,
}

// ParseTargets converts browser targets such as "ie9" or "chrome 120" into
// esbuild engines.
func ParseTargets(targets []string) ([]api.Engine, error) {
	engines := make([]api.Engine, 0, len(targets))
	for _, target := range targets {
		normalized := strings.ToLower(strings.TrimSpace(target))
		if normalized == "" {
			continue
		}
		m := targetPattern.FindStringSubmatch(normalized)
		if m == nil {
			return nil, fmt.Errorf("invalid browser target %q", target)
		}
		name, ok := engineNames[m[1]]
		if !ok {
			return nil, fmt.Errorf("unknown browser %q in target %q", m[1], target)
		}
		engines = append(engines, api.Engine{Name: name, Version: m[2]})
	}
	return engines, nil
}
