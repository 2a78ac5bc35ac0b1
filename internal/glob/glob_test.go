package glob

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"./src/scss/**/*.+(scss|sass)", "src/scss/**/*.{scss,sass}"},
		{"src/**/*.html", "src/**/*.html"},
		{"images/**/*.{jpeg,jpg,png}", "images/**/*.{jpeg,jpg,png}"},
		{"*.@(js)", "*.{js}"},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.pattern))
		})
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"src/scss/**/*.+(scss|sass)", "src/scss/main.scss", true},
		{"src/scss/**/*.+(scss|sass)", "src/scss/partials/_grid.sass", true},
		{"src/scss/**/*.+(scss|sass)", "src/scss/main.css", false},
		{"src/**/*.html", "src/index.html", true},
		{"src/**/*.html", "src/pages/about.html", true},
		{"src/**/*.php", "src/index.html", false},
		{"src/images/**/*.{jpeg,jpg,png}", "src/images/logo.png", true},
		{"src/images/**/*.{jpeg,jpg,png}", "src/images/logo.gif", false},
		{"[", "anything", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.pattern, tt.name))
		})
	}
}

func TestBase(t *testing.T) {
	assert.Equal(t, filepath.FromSlash("src/scss"), Base("./src/scss/**/*.scss"))
	assert.Equal(t, "src", Base("src/**/*.html"))
	assert.Equal(t, ".", Base("**/*.php"))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("src/**/*.+(scss|sass)"))
	assert.Error(t, Validate(""))
	assert.Error(t, Validate("src/[a"))
}

func TestFiles(t *testing.T) {
	root := t.TempDir()
	write := func(rel string) {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(rel), 0o644))
	}
	write("index.html")
	write("pages/about.html")
	write("pages/about.php")
	write("bower_components/lib/docs.html")
	write("dist/index.html")

	files, err := Files(root, "**/*.html",
		filepath.Join(root, "bower_components"),
		filepath.Join(root, "dist"))
	require.NoError(t, err)
	assert.Equal(t, []string{"index.html", "pages/about.html"}, files)

	files, err = Files(filepath.Join(root, "missing"), "**/*")
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = Files(root, "[")
	assert.Error(t, err)
}

func TestAbsolute(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)

	abs, err := Absolute("./src/scss/**/*.+(scss|sass)")
	require.NoError(t, err)
	assert.Equal(t, filepath.ToSlash(filepath.Join(cwd, "src", "scss"))+"/**/*.{scss,sass}", abs)
	assert.True(t, Match(abs, filepath.Join(cwd, "src", "scss", "base", "_type.scss")))
}
