// ABOUTME: FFmpeg-backed device capture
// ABOUTME: Runs ffmpeg to read an input device and emit raw PCM on stdout
package capture

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Sendspin/sendspin-caster/pkg/audio"
	"github.com/Sendspin/sendspin-caster/pkg/streamerr"
)

// FFmpegSource captures from any input ffmpeg understands.
// Device is either "<demuxer>:<device>" (e.g. "alsa:hw:0", "pulse:default",
// "avfoundation::0") or a plain URL/path.
type FFmpegSource struct {
	device string
	format audio.Format
	cmd    *exec.Cmd
	stdout io.ReadCloser
	reader *bufio.Reader
}

// NewFFmpegSource creates a new ffmpeg capture source
func NewFFmpegSource(device string, format audio.Format) *FFmpegSource {
	return &FFmpegSource{device: device, format: format}
}

var ffmpegDemuxers = []string{"alsa", "pulse", "oss", "jack", "avfoundation", "dshow", "lavfi"}

// ffmpegArgs builds the ffmpeg command line for device and format
func ffmpegArgs(device string, format audio.Format) []string {
	args := []string{"-loglevel", "error", "-nostdin"}

	input := device
	for _, d := range ffmpegDemuxers {
		if strings.HasPrefix(device, d+":") {
			args = append(args, "-f", d)
			input = strings.TrimPrefix(device, d+":")
			break
		}
	}
	args = append(args, "-i", input)

	var sampleFmt string
	switch {
	case format.BitDepth == 8:
		sampleFmt = "u8"
	case format.BigEndian:
		sampleFmt = "s16be"
	default:
		sampleFmt = "s16le"
	}

	return append(args,
		"-f", sampleFmt,
		"-ar", fmt.Sprintf("%d", format.SampleRate),
		"-ac", fmt.Sprintf("%d", format.Channels),
		"-")
}

func (s *FFmpegSource) Open() error {
	if s.cmd != nil {
		return nil
	}

	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return &streamerr.SourceError{Device: s.device, Err: errors.Wrap(err, "ffmpeg not found in PATH")}
	}

	cmd := exec.Command("ffmpeg", ffmpegArgs(s.device, s.format)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &streamerr.SourceError{Device: s.device, Err: errors.Wrap(err, "ffmpeg stdout")}
	}

	if err := cmd.Start(); err != nil {
		return &streamerr.SourceError{Device: s.device, Err: errors.Wrap(err, "start ffmpeg")}
	}

	log.Printf("Capturing via ffmpeg: %s (%s)", s.device, s.format)

	s.cmd = cmd
	s.stdout = stdout
	s.reader = bufio.NewReader(stdout)
	return nil
}

func (s *FFmpegSource) Read(buf []byte) (int, error) {
	if s.reader == nil {
		return 0, nil
	}

	n, err := io.ReadFull(s.reader, buf[:s.format.Whole(len(buf))])
	if err == io.ErrUnexpectedEOF {
		return s.format.Whole(n), nil
	}
	if err == io.EOF {
		return 0, io.EOF
	}
	if err != nil {
		return n, &streamerr.SourceError{Device: s.device, Err: err}
	}
	return n, nil
}

func (s *FFmpegSource) Format() audio.Format { return s.format }

func (s *FFmpegSource) Close() error {
	if s.cmd == nil {
		return nil
	}
	if s.stdout != nil {
		s.stdout.Close()
	}
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
	}
	s.cmd = nil
	s.reader = nil
	return nil
}
