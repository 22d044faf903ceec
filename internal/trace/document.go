package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/dumbbell-simulator/internal/logging"
)

// DocumentVersion is written into every trace file.
const DocumentVersion = "dumbbell-anim/1"

// Document is the serialised form of a trace. Times are in seconds.
type Document struct {
	XMLName  xml.Name `xml:"anim" json:"-" yaml:"-"`
	Version  string   `xml:"ver,attr" json:"version" yaml:"version"`
	RunID    string   `xml:"run_id,attr,omitempty" json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Complete bool     `xml:"complete,attr" json:"complete" yaml:"complete"`
	Reason   string   `xml:"reason,attr,omitempty" json:"reason,omitempty" yaml:"reason,omitempty"`

	Nodes    []NodeElement    `xml:"node" json:"nodes" yaml:"nodes"`
	Links    []LinkElement    `xml:"link" json:"links" yaml:"links"`
	Counters []CounterElement `xml:"ncs,omitempty" json:"counters,omitempty" yaml:"counters,omitempty"`
	Packets  []PacketElement  `xml:"p,omitempty" json:"packets,omitempty" yaml:"packets,omitempty"`
}

type NodeElement struct {
	ID      int64   `xml:"id,attr" json:"id" yaml:"id"`
	Name    string  `xml:"descr,attr" json:"name" yaml:"name"`
	Role    string  `xml:"role,attr" json:"role" yaml:"role"`
	Address string  `xml:"addr,attr,omitempty" json:"address,omitempty" yaml:"address,omitempty"`
	X       float64 `xml:"locX,attr" json:"x" yaml:"x"`
	Y       float64 `xml:"locY,attr" json:"y" yaml:"y"`
	Z       float64 `xml:"locZ,attr" json:"z" yaml:"z"`
}

type LinkElement struct {
	From     int64   `xml:"fromId,attr" json:"from" yaml:"from"`
	To       int64   `xml:"toId,attr" json:"to" yaml:"to"`
	DataRate string  `xml:"rate,attr" json:"data_rate" yaml:"data_rate"`
	Delay    float64 `xml:"delay,attr" json:"delay_s" yaml:"delay_s"`
	// Length is the drawn link length in canvas units.
	Length float64 `xml:"len,attr" json:"length" yaml:"length"`
}

type CounterElement struct {
	NodeID   int64    `xml:"id,attr" json:"node" yaml:"node"`
	Start    float64  `xml:"t0,attr" json:"start_s" yaml:"start_s"`
	End      float64  `xml:"t,attr" json:"end_s" yaml:"end_s"`
	Counters Counters `xml:"c" json:"counters" yaml:"counters"`
}

type PacketElement struct {
	App        string  `xml:"app,attr" json:"app" yaml:"app"`
	Seq        uint64  `xml:"seq,attr" json:"seq" yaml:"seq"`
	From       int64   `xml:"fId,attr" json:"from" yaml:"from"`
	To         int64   `xml:"tId,attr" json:"to" yaml:"to"`
	Size       int     `xml:"size,attr" json:"size" yaml:"size"`
	Hops       int     `xml:"hops,attr" json:"hops" yaml:"hops"`
	SentAt     float64 `xml:"fbTx,attr" json:"sent_s" yaml:"sent_s"`
	ReceivedAt float64 `xml:"fbRx,attr" json:"received_s" yaml:"received_s"`
}

// Snapshot builds the document from the current recorder state.
func (r *Recorder) Snapshot() Document {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := Document{
		Version:  DocumentVersion,
		RunID:    r.runID,
		Complete: r.complete,
		Reason:   r.reason,
	}
	for _, id := range r.sortedNodeIDs() {
		n, ok := r.nodes[id]
		if !ok {
			continue
		}
		doc.Nodes = append(doc.Nodes, NodeElement{
			ID:      int64(n.id),
			Name:    n.name,
			Role:    n.role,
			Address: n.address,
			X:       n.position.X,
			Y:       n.position.Y,
			Z:       n.position.Z,
		})
	}
	for _, l := range r.links {
		el := LinkElement{
			From:     int64(l.from),
			To:       int64(l.to),
			DataRate: l.rate,
			Delay:    l.delay.Seconds(),
		}
		if a, b := r.nodes[l.from], r.nodes[l.to]; a != nil && b != nil {
			el.Length = a.position.DistanceTo(b.position)
		}
		doc.Links = append(doc.Links, el)
	}
	if r.sampling {
		for _, s := range r.samples {
			doc.Counters = append(doc.Counters, CounterElement{
				NodeID:   int64(s.NodeID),
				Start:    s.WindowStart.Seconds(),
				End:      s.WindowEnd.Seconds(),
				Counters: s.Counters,
			})
		}
	}
	for _, p := range r.packets {
		doc.Packets = append(doc.Packets, PacketElement{
			App:        p.App,
			Seq:        p.Seq,
			From:       int64(p.Src),
			To:         int64(p.Dst),
			Size:       p.Size,
			Hops:       p.Hops,
			SentAt:     p.SentAt.Seconds(),
			ReceivedAt: p.ReceivedAt.Seconds(),
		})
	}
	return doc
}

// Encode serialises doc in the named format: "xml", "json" or "yaml".
func Encode(doc Document, format string) ([]byte, error) {
	switch format {
	case "xml":
		var buf bytes.Buffer
		buf.WriteString(xml.Header)
		enc := xml.NewEncoder(&buf)
		enc.Indent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
		buf.WriteByte('\n')
		return buf.Bytes(), nil
	case "json":
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(out, '\n'), nil
	case "yaml":
		return yaml.Marshal(doc)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// FormatForPath picks the format from a file extension.
func FormatForPath(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".xml":
		return "xml", nil
	case ".json":
		return "json", nil
	case ".yaml", ".yml":
		return "yaml", nil
	default:
		return "", fmt.Errorf("%w: extension %q", ErrUnknownFormat, ext)
	}
}

// Flush writes the trace to path, choosing the format by extension.
func (r *Recorder) Flush(path string) error {
	format, err := FormatForPath(path)
	if err != nil {
		return err
	}
	doc := r.Snapshot()
	out, err := Encode(doc, format)
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	r.log.Info(context.Background(), "trace written",
		logging.String("path", path),
		logging.String("format", format),
		logging.Int("nodes", len(doc.Nodes)),
		logging.Int("samples", len(doc.Counters)),
		logging.Int("packets", len(doc.Packets)),
		logging.Bool("complete", doc.Complete),
	)
	return nil
}

// ReadFile loads a trace previously written by Flush.
func ReadFile(path string) (Document, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return Document{}, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	var doc Document
	switch format {
	case "xml":
		err = xml.Unmarshal(raw, &doc)
	case "json":
		err = json.Unmarshal(raw, &doc)
	default:
		err = yaml.Unmarshal(raw, &doc)
	}
	if err != nil {
		return Document{}, fmt.Errorf("decode trace %s: %w", path, err)
	}
	return doc, nil
}
