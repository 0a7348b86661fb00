package capture

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"strings"
)

// Format is a capture file format that can be detected and opened.
type Format interface {
	// Name returns the unique name of the format.
	Name() string
	// CanOpen returns true if this format can read the given file.
	CanOpen(filePath string) (bool, error)
	// Open opens the file as a frame source.
	Open(filePath string) (Source, error)
}

// Registry holds the known capture formats and detects which one a file uses.
type Registry struct {
	formats []Format
}

// NewRegistry returns a registry with the binary recording and text log formats.
func NewRegistry() *Registry {
	return &Registry{
		formats: []Format{
			recordingFormat{},
			textLogFormat{},
		},
	}
}

// Register adds a format. Later formats are tried last.
func (r *Registry) Register(f Format) {
	r.formats = append(r.formats, f)
}

// FindFormat detects the format of a file.
func (r *Registry) FindFormat(filePath string) (Format, error) {
	for _, f := range r.formats {
		can, err := f.CanOpen(filePath)
		if err != nil {
			return nil, err
		}
		if can {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, filePath)
}

// FormatByName returns a format by its name.
func (r *Registry) FormatByName(name string) (Format, error) {
	name = strings.ToLower(name)
	for _, f := range r.formats {
		if strings.ToLower(f.Name()) == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, name)
}

// Open detects the format of a file and opens it.
func (r *Registry) Open(filePath string) (Source, error) {
	f, err := r.FindFormat(filePath)
	if err != nil {
		return nil, err
	}
	return f.Open(filePath)
}

type recordingFormat struct{}

func (recordingFormat) Name() string { return "recording" }

func (recordingFormat) CanOpen(filePath string) (bool, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return false, err
	}
	defer file.Close()

	var magic uint32
	if err := binary.Read(file, binary.BigEndian, &magic); err != nil {
		return false, nil
	}
	return magic == RecordingMagic, nil
}

func (recordingFormat) Open(filePath string) (Source, error) {
	return OpenRecording(filePath)
}

type textLogFormat struct{}

func (textLogFormat) Name() string { return "textlog" }

// CanOpen samples the first lines that look like frames; at least 60% must match.
func (textLogFormat) CanOpen(filePath string) (bool, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return false, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	checked := 0
	matched := 0
	for scanner.Scan() && checked < 20 {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "[") {
			continue
		}
		checked++
		if textLogLineRegex.MatchString(line) {
			matched++
		}
	}

	return checked > 0 && float64(matched)/float64(checked) >= 0.6, nil
}

func (textLogFormat) Open(filePath string) (Source, error) {
	return OpenTextLog(filePath)
}
