package capture

import (
	"fmt"

	"gocv.io/x/gocv"
)

// clipCodecs are tried in order when opening a writer. XVID gives the
// best size/compatibility tradeoff for .avi; MJPG is the fallback
// present in effectively every OpenCV build.
var clipCodecs = []string{"XVID", "MJPG"}

type gocvWriter struct {
	w *gocv.VideoWriter
}

// newVideoWriter opens a clip writer at path, falling back through
// clipCodecs until one produces an opened writer.
func newVideoWriter(path string, fps float64, width, height int) (FrameWriter, string, error) {
	for _, codec := range clipCodecs {
		w, err := gocv.VideoWriterFile(path, codec, fps, width, height, true)
		if err == nil && w.IsOpened() {
			return &gocvWriter{w: w}, codec, nil
		}
		if w != nil {
			w.Close()
		}
	}
	return nil, "", fmt.Errorf("no working video encoder (tried %v)", clipCodecs)
}

func (g *gocvWriter) Write(frame *gocv.Mat) error {
	return g.w.Write(*frame)
}

func (g *gocvWriter) Close() error {
	return g.w.Close()
}
