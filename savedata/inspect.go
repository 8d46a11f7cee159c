package savedata

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/disiqueira/gotree/v3"
	"github.com/maruel/natural"
	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"
)

// Report statuses.
const (
	StatusSynced        = "synced"
	StatusDiverged      = "diverged"
	StatusLegacyOnly    = "legacy-only"
	StatusVersionedOnly = "versioned-only"
)

// SideInfo describes one copy of a save file.
type SideInfo struct {
	Size       int    `json:"size" yaml:"size"`
	Digest     string `json:"digest" yaml:"digest"`
	Structured bool   `json:"structured" yaml:"structured"`
}

// FileReport compares the two copies of one save file.
type FileReport struct {
	Name      string    `json:"name" yaml:"name"`
	Status    string    `json:"status" yaml:"status"`
	Legacy    *SideInfo `json:"legacy,omitempty" yaml:"legacy,omitempty"`
	Versioned *SideInfo `json:"versioned,omitempty" yaml:"versioned,omitempty"`
}

// Summary counts files per status.
type Summary struct {
	Synced        int `json:"synced" yaml:"synced"`
	Diverged      int `json:"diverged" yaml:"diverged"`
	LegacyOnly    int `json:"legacyOnly" yaml:"legacyOnly"`
	VersionedOnly int `json:"versionedOnly" yaml:"versionedOnly"`
}

// Report is a read-only comparison of both stores.
type Report struct {
	Summary Summary      `json:"summary" yaml:"summary"`
	Files   []FileReport `json:"files" yaml:"files"`
}

// digestLen is the number of hex characters of the digest kept in a report.
const digestLen = 16

func sideInfo(rec Record) *SideInfo {
	sum := blake2b.Sum256(rec.Content.Bytes())
	return &SideInfo{
		Size:       len(rec.Content.String()),
		Digest:     hex.EncodeToString(sum[:])[:digestLen],
		Structured: rec.Content.IsStructured(),
	}
}

// BuildReport compares every save file of snap, in natural name order.
func BuildReport(snap Snapshot) Report {
	names := make([]string, 0, len(snap.Legacy)+len(snap.Versioned))
	for name := range snap.Legacy {
		names = append(names, name)
	}
	for name := range snap.Versioned {
		if _, ok := snap.Legacy[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool { return natural.Less(names[i], names[j]) })

	rep := Report{Files: make([]FileReport, 0, len(names))}
	for _, name := range names {
		fr := FileReport{Name: name}
		lrec, inLegacy := snap.Legacy[name]
		vrec, inVersioned := snap.Versioned[name]
		if inLegacy {
			fr.Legacy = sideInfo(lrec)
		}
		if inVersioned {
			fr.Versioned = sideInfo(vrec)
		}
		switch {
		case inLegacy && inVersioned && lrec.Content.String() == vrec.Content.String():
			fr.Status = StatusSynced
			rep.Summary.Synced++
		case inLegacy && inVersioned:
			fr.Status = StatusDiverged
			rep.Summary.Diverged++
		case inLegacy:
			fr.Status = StatusLegacyOnly
			rep.Summary.LegacyOnly++
		default:
			fr.Status = StatusVersionedOnly
			rep.Summary.VersionedOnly++
		}
		rep.Files = append(rep.Files, fr)
	}
	return rep
}

// WriteJSON renders the report as indented JSON.
func (r Report) WriteJSON(w io.Writer) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// WriteYAML renders the report as YAML.
func (r Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return enc.Close()
}

// Tree renders the report grouped by status.
func (r Report) Tree() string {
	root := gotree.New(fmt.Sprintf("save data (%d files)", len(r.Files)))
	groups := make(map[string]gotree.Tree)
	for _, status := range []string{StatusSynced, StatusDiverged, StatusLegacyOnly, StatusVersionedOnly} {
		for _, f := range r.Files {
			if f.Status != status {
				continue
			}
			g, ok := groups[status]
			if !ok {
				g = root.Add(status)
				groups[status] = g
			}
			g.Add(f.label())
		}
	}
	return root.Print()
}

func (f FileReport) label() string {
	var b bytes.Buffer
	b.WriteString(f.Name)
	if f.Legacy != nil {
		fmt.Fprintf(&b, " legacy=%dB:%s", f.Legacy.Size, f.Legacy.Digest)
	}
	if f.Versioned != nil {
		fmt.Fprintf(&b, " versioned=%dB:%s", f.Versioned.Size, f.Versioned.Digest)
	}
	return b.String()
}
