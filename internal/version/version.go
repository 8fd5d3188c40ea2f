package version

import (
	"encoding/json"
	"net/http"
	"runtime"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

// Заполняются при сборке:
// -ldflags "-X github.com/vladislavdragonenkov/shop/internal/version.version=v1.2.0 ..."
var (
	version = "dev"
	commit  = ""
	date    = ""
)

// Build описывает собранный бинарник.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
}

// Current возвращает сведения о сборке. Если commit и date не переданы через
// ldflags, они берутся из VCS-меток go build.
func Current() Build {
	return current(debug.ReadBuildInfo)
}

func current(readBuildInfo func() (*debug.BuildInfo, bool)) Build {
	b := Build{Version: version, Commit: commit, Date: date, GoVersion: runtime.Version()}

	if info, ok := readBuildInfo(); ok && info != nil {
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if b.Commit == "" {
					b.Commit = s.Value
				}
			case "vcs.time":
				if b.Date == "" {
					b.Date = s.Value
				}
			}
		}
	}

	if b.Commit == "" {
		b.Commit = "unknown"
	}
	if b.Date == "" {
		b.Date = "unknown"
	}
	return b
}

// Fields возвращает поля для стартового лога.
func Fields() log.Fields {
	b := Current()
	return log.Fields{"version": b.Version, "commit": b.Commit, "build_date": b.Date, "go": b.GoVersion}
}

// Handler отдаёт Build в JSON.
func Handler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Current())
}
