package sinks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tarungka/lifelog/internal/models"
)

const orgTimestampLayout = "2006-01-02 Mon 15:04"

// OrgSink appends records to an org-mode file as second level headings
//
//	** <2024-01-02 Tue 08:00>--<2024-01-02 Tue 08:45> Dune
//	:PROPERTIES:
//	:ASIN: B00B7NPRY8
//	:ID: 0b4c...
//	:END:
//
// A new file starts with a first level heading naming the sink.
type OrgSink struct {
	name     string
	filePath string
	loc      *time.Location
	logger   zerolog.Logger

	out *appendFile
}

// NewOrgSink reads the config keys file_path (required) and timezone
func NewOrgSink(c SinkConfig, logger zerolog.Logger) (Sink, error) {
	if c.Config["file_path"] == "" {
		return nil, fmt.Errorf("org sink %s: missing file_path", c.Name)
	}
	loc := time.Local
	if tz := c.Config["timezone"]; tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("org sink %s: %w", c.Name, err)
		}
		loc = l
	}
	return &OrgSink{name: c.Name, filePath: c.Config["file_path"], loc: loc, logger: logger}, nil
}

func (o *OrgSink) Name() string { return o.name }

func (o *OrgSink) Open(ctx context.Context) error {
	out, err := openAppend(o.filePath, o.logger)
	if err != nil {
		return err
	}
	o.out = out

	if out.Size() == 0 {
		fmt.Fprintf(out, "* %s\n", o.name)
		return out.Sync()
	}
	return nil
}

func (o *OrgSink) Emit(ctx context.Context, r models.Record) error {
	if o.out == nil {
		return fmt.Errorf("org sink %s is not open", o.name)
	}
	_, err := o.out.WriteString(o.format(r))
	return err
}

func (o *OrgSink) format(r models.Record) string {
	var b strings.Builder

	b.WriteString("** <")
	b.WriteString(r.Time.In(o.loc).Format(orgTimestampLayout))
	b.WriteString(">")
	if r.IsRange() {
		b.WriteString("--<")
		b.WriteString(r.End.In(o.loc).Format(orgTimestampLayout))
		b.WriteString(">")
	}
	b.WriteString(" ")
	if r.Link != "" {
		fmt.Fprintf(&b, "[[%s][%s]]", r.Link, r.Text)
	} else {
		b.WriteString(r.Text)
	}
	b.WriteString("\n:PROPERTIES:\n")
	for _, p := range r.Properties() {
		fmt.Fprintf(&b, ":%s: %s\n", p.Name, p.Value)
	}
	fmt.Fprintf(&b, ":ID: %s\n", r.ID)
	b.WriteString(":END:\n")
	return b.String()
}

func (o *OrgSink) Flush(ctx context.Context) error {
	if o.out == nil {
		return nil
	}
	return o.out.Sync()
}

func (o *OrgSink) Close() error {
	if o.out == nil {
		return nil
	}
	return o.out.Close()
}
