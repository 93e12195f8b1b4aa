// Package program stores named command files in a data directory.
package program

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/mastercactapus/pantilt/gcode"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithFields(log.Fields{
	"pkg": "program",
})

const ext = ".txt"

var (
	ErrNotFound    = errors.New("program not found")
	ErrInvalidName = errors.New("invalid program name")
	ErrEmpty       = errors.New("program has no commands")
	ErrNotMotion   = errors.New("not a motion command")

	// ErrInvalidProgram is matched by every validation failure.
	ErrInvalidProgram = errors.New("invalid program")
)

var rxName = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// Store keeps programs as <name>.txt files under Dir.
type Store struct {
	Dir string
}

func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

func safePath(base, name string) (bool, string) {
	if filepath.Separator != '/' && strings.ContainsRune(name, filepath.Separator) {
		return false, ""
	}
	if !rxName.MatchString(name) {
		return false, ""
	}
	dir := base
	if dir == "" {
		dir = "."
	}
	return true, filepath.Join(dir, filepath.FromSlash(path.Clean("/"+name+ext)))
}

// List returns the names of all stored programs, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dirName())
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	names := []string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ext)
		if !rxName.MatchString(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) dirName() string {
	if s.Dir == "" {
		return "."
	}
	return s.Dir
}

// Load will read and validate the named program, returning its command
// lines as written in the file.
func (s *Store) Load(name string) ([]string, error) {
	ok, file := safePath(s.Dir, name)
	if !ok {
		return nil, ErrInvalidName
	}
	data, err := os.ReadFile(file)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	lines, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrInvalidProgram, name, err)
	}
	logger.WithFields(log.Fields{"name": name, "commands": len(lines)}).Debugln("loaded program")
	return lines, nil
}

// Open returns the raw contents of the named program.
func (s *Store) Open(name string) (io.ReadCloser, error) {
	ok, file := safePath(s.Dir, name)
	if !ok {
		return nil, ErrInvalidName
	}
	f, err := os.Open(file)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

// Save will validate r and store it under name, replacing any existing program.
func (s *Store) Save(name string, r io.Reader) error {
	ok, file := safePath(s.Dir, name)
	if !ok {
		return ErrInvalidName
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	_, err = Parse(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrInvalidProgram, name, err)
	}

	err = os.MkdirAll(filepath.Dir(file), 0755)
	if err != nil {
		return err
	}
	err = os.WriteFile(file, data, 0644)
	if err != nil {
		return err
	}
	logger.WithField("name", name).Infoln("saved program")
	return nil
}

func (s *Store) Delete(name string) error {
	ok, file := safePath(s.Dir, name)
	if !ok {
		return ErrInvalidName
	}
	err := os.Remove(file)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	logger.WithField("name", name).Infoln("deleted program")
	return nil
}

// Parse will validate every block in r and return the source text of each.
// Only G0/G1 moves are accepted.
func Parse(r io.Reader) ([]string, error) {
	p := gcode.NewParser(r)
	var lines []string
	for {
		b, err := p.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if !b.IsMove() {
			return nil, fmt.Errorf("line %d: %w: %s", p.Line(), ErrNotMotion, p.Text())
		}
		lines = append(lines, p.Text())
	}
	if len(lines) == 0 {
		return nil, ErrEmpty
	}
	return lines, nil
}

// Clean trims each command and drops blank ones.
func Clean(cmds []string) []string {
	res := make([]string, 0, len(cmds))
	for _, c := range cmds {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		res = append(res, c)
	}
	return res
}
