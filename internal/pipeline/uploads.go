package pipeline

import (
	"log/slog"
	"os"
	"path/filepath"

	"fabingest/internal/config"
	"fabingest/internal/logging"
	"fabingest/internal/pathnorm"
)

// uploadRouter maps files to the upload targets that receive them.
type uploadRouter struct {
	classified map[string][]config.Upload
	watched    []config.Upload
}

func newUploadRouter(targets []config.Upload) *uploadRouter {
	r := &uploadRouter{classified: make(map[string][]config.Upload)}
	for _, target := range targets {
		switch target.Mode {
		case config.UploadModeWatch:
			r.watched = append(r.watched, target)
		default:
			key := pathnorm.Fold(target.Folder)
			r.classified[key] = append(r.classified[key], target)
		}
	}
	return r
}

// classifiedFor returns the classified-mode targets whose folder directly
// contains dest.
func (r *uploadRouter) classifiedFor(dest string) []config.Upload {
	return r.classified[pathnorm.Fold(filepath.Dir(dest))]
}

// watchedFor returns the watch-mode targets whose folder contains path.
func (r *uploadRouter) watchedFor(path string) []config.Upload {
	var out []config.Upload
	for _, target := range r.watched {
		if pathnorm.Under(path, target.Folder) {
			out = append(out, target)
		}
	}
	return out
}

// watchFolders creates and returns the folders of watch-mode targets.
func (r *uploadRouter) watchFolders(logger *slog.Logger) []string {
	folders := make([]string, 0, len(r.watched))
	for _, target := range r.watched {
		if err := os.MkdirAll(target.Folder, 0o755); err != nil {
			logging.WarnWithContext(logger, "upload folder unavailable", "upload_folder_missing",
				logging.String("upload", target.Key),
				logging.String(logging.FieldPath, target.Folder),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check permissions on the upload folder"),
				logging.String(logging.FieldImpact, "files in this folder are not dispatched"),
			)
			continue
		}
		folders = append(folders, target.Folder)
	}
	return folders
}
