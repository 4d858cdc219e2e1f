package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// LoadDotEnv sets the variables of a .env file into the process
// environment. Existing variables are kept unless override is true.
func LoadDotEnv(path string, override bool) error {
	if override {
		return godotenv.Overload(path)
	}
	return godotenv.Load(path)
}

// LoadDotEnvDefault loads .env from the working directory and then from the
// executable's directory. Missing files are ignored and nothing already set
// is overridden, so the working directory wins.
func LoadDotEnvDefault() {
	for _, p := range dotEnvCandidates() {
		st, err := os.Stat(p)
		if err != nil || st.IsDir() {
			continue
		}
		if err := LoadDotEnv(p, false); err != nil {
			log.Warn().Str("file", p).Err(err).Msg("ignoring .env file")
		}
	}
}

func dotEnvCandidates() []string {
	var out []string
	if cwd, err := os.Getwd(); err == nil {
		out = append(out, filepath.Join(cwd, ".env"))
	}
	if exe, err := os.Executable(); err == nil {
		p := filepath.Join(filepath.Dir(exe), ".env")
		if len(out) == 0 || out[0] != p {
			out = append(out, p)
		}
	}
	return out
}
