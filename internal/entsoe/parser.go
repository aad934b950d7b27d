package entsoe

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"SpotSentinel/internal/model"
)

// Resolution codes used by the publication documents.
const (
	resolutionHourly      = "PT60M"
	resolutionQuarterHour = "PT15M"
)

type acknowledgementDocument struct {
	Reasons []struct {
		Text string `xml:"text"`
	} `xml:"Reason"`
}

type publicationDocument struct {
	CreatedDateTime string `xml:"createdDateTime"`
	TimeSeries      []struct {
		Periods []period `xml:"Period"`
	} `xml:"TimeSeries"`
}

type period struct {
	TimeInterval struct {
		Start string `xml:"start"`
		End   string `xml:"end"`
	} `xml:"timeInterval"`
	Resolution string  `xml:"resolution"`
	Points     []point `xml:"Point"`
}

type point struct {
	Position int     `xml:"position"`
	Price    float64 `xml:"price.amount"`
}

// ParseDocument turns a raw publication document into a validated, gap-free,
// chronologically ordered DaySeries. It returns *NotAvailableError for
// acknowledgement documents and documents with zero time series, and
// *DocumentError when the document cannot be understood.
//
// The feed compresses runs of identical prices by omitting positions, so the
// expected interval count is derived from the declared time window, never
// from the number of explicit data points.
func ParseDocument(data []byte, market string) (*model.DaySeries, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	root, err := rootElement(dec)
	if err != nil {
		return nil, &DocumentError{Detail: fmt.Sprintf("read root element: %v", err)}
	}

	// The document namespace varies by schema version; dispatch on the
	// root's local name and let the decoder match unqualified field names.
	if strings.HasSuffix(root.Name.Local, "Acknowledgement_MarketDocument") {
		var ack acknowledgementDocument
		if err := dec.DecodeElement(&ack, &root); err != nil {
			return nil, &DocumentError{Detail: fmt.Sprintf("decode acknowledgement: %v", err)}
		}
		return nil, &NotAvailableError{Reason: ackReason(&ack)}
	}

	var doc publicationDocument
	if err := dec.DecodeElement(&doc, &root); err != nil {
		return nil, &DocumentError{Detail: fmt.Sprintf("decode publication: %v", err)}
	}
	if len(doc.TimeSeries) == 0 {
		return nil, &NotAvailableError{Reason: "no time series in response"}
	}

	var (
		intervals   []model.Interval
		granularity model.Granularity
		haveGran    bool
	)
	for _, ts := range doc.TimeSeries {
		for i := range ts.Periods {
			p := &ts.Periods[i]
			g, err := granularityFor(p.Resolution)
			if err != nil {
				return nil, err
			}
			if !haveGran {
				granularity = g
				haveGran = true
			}
			if p.TimeInterval.Start == "" || p.TimeInterval.End == "" {
				continue
			}
			start, err := parseInstant(p.TimeInterval.Start)
			if err != nil {
				return nil, &DocumentError{Detail: fmt.Sprintf("period start: %v", err)}
			}
			end, err := parseInstant(p.TimeInterval.End)
			if err != nil {
				return nil, &DocumentError{Detail: fmt.Sprintf("period end: %v", err)}
			}
			intervals = append(intervals, expandPeriod(p, start, end, g.Step())...)
		}
	}
	if !haveGran {
		return nil, &DocumentError{Detail: "could not determine granularity"}
	}

	return &model.DaySeries{
		Market:      market,
		Granularity: granularity,
		Intervals:   intervals,
		PublishedAt: parsePublished(doc.CreatedDateTime),
	}, nil
}

// expandPeriod walks every position the declared window covers, filling the
// gaps the feed's run-length compression leaves: a missing position repeats
// the previous price; a leading gap borrows the nearest subsequent explicit
// price, or 0.0 when the period has no explicit points at all.
func expandPeriod(p *period, start, end time.Time, step time.Duration) []model.Interval {
	posToPrice := make(map[int]float64, len(p.Points))
	positions := make([]int, 0, len(p.Points))
	for _, pt := range p.Points {
		if _, seen := posToPrice[pt.Position]; !seen {
			positions = append(positions, pt.Position)
		}
		posToPrice[pt.Position] = pt.Price
	}
	sort.Ints(positions)

	expected := int(end.Sub(start) / step)
	intervals := make([]model.Interval, 0, expected)

	var lastPrice float64
	haveLast := false
	for idx := 1; idx <= expected; idx++ {
		price, explicit := posToPrice[idx]
		if !explicit {
			if haveLast {
				price = lastPrice
			} else {
				price = nextExplicitPrice(positions, posToPrice, idx)
			}
		}
		lastPrice, haveLast = price, true
		s := start.Add(time.Duration(idx-1) * step)
		intervals = append(intervals, model.Interval{Start: s, End: s.Add(step), Price: price})
	}
	return intervals
}

func nextExplicitPrice(positions []int, posToPrice map[int]float64, from int) float64 {
	i := sort.SearchInts(positions, from)
	if i < len(positions) {
		return posToPrice[positions[i]]
	}
	return 0.0
}

func granularityFor(resolution string) (model.Granularity, error) {
	switch resolution {
	case resolutionHourly:
		return model.Hour, nil
	case resolutionQuarterHour:
		return model.QuarterHour, nil
	default:
		return "", &DocumentError{Detail: fmt.Sprintf("unsupported resolution %q", resolution)}
	}
}

func ackReason(ack *acknowledgementDocument) string {
	var parts []string
	for _, r := range ack.Reasons {
		if t := strings.TrimSpace(r.Text); t != "" {
			parts = append(parts, t)
		}
	}
	if len(parts) == 0 {
		return "no time series (acknowledgement)"
	}
	return strings.Join(parts, "; ")
}

func rootElement(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				return xml.StartElement{}, fmt.Errorf("empty document")
			}
			return xml.StartElement{}, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
	}
}

// The feed writes instants like 2025-10-01T22:00Z, without seconds.
var instantLayouts = []string{"2006-01-02T15:04Z07:00", time.RFC3339}

func parseInstant(s string) (time.Time, error) {
	for _, layout := range instantLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized instant %q", s)
}

func parsePublished(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := parseInstant(s)
	if err != nil {
		return nil
	}
	return &t
}

// SimulateQuarterHour expands an hourly series into quarter-hour intervals by
// splitting each hour into four identical slots. Used to keep the chart grid
// a fixed width when upstream only publishes hourly data.
func SimulateQuarterHour(s *model.DaySeries) *model.DaySeries {
	if s.Granularity != model.Hour {
		return s
	}
	step := model.QuarterHour.Step()
	out := make([]model.Interval, 0, len(s.Intervals)*4)
	for _, it := range s.Intervals {
		for q := 0; q < 4; q++ {
			start := it.Start.Add(time.Duration(q) * step)
			out = append(out, model.Interval{Start: start, End: start.Add(step), Price: it.Price})
		}
	}
	return &model.DaySeries{
		Market:      s.Market,
		Granularity: model.QuarterHour,
		Intervals:   out,
		PublishedAt: s.PublishedAt,
	}
}
