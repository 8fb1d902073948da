package analytics

import (
	"sort"

	"github.com/Infix8/qrflow-backend/internal/models"
)

// Counts are the per-node tallies of a dashboard.
type Counts struct {
	Total    int `json:"total"`
	Admitted int `json:"admitted"`
}

// SectionNode is a leaf of the breakdown.
type SectionNode struct {
	Section string `json:"section"`
	Counts
}

// YearNode groups sections of one year.
type YearNode struct {
	Year int `json:"year"`
	Counts
	Sections []SectionNode `json:"sections"`
}

// BranchNode groups years of one branch.
type BranchNode struct {
	Branch string `json:"branch"`
	Counts
	Years []YearNode `json:"years"`
}

// Totals are event-wide tallies.
type Totals struct {
	Attendees        int     `json:"attendees"`
	Admitted         int     `json:"admitted"`
	Pending          int     `json:"pending"`
	AdmittedPercent  float64 `json:"admitted_percent"`
	TokensIssued     int     `json:"tokens_issued"`
	Delivered        int     `json:"delivered"`
	DeliveryFailures int     `json:"delivery_failures"`
	CapturedPayments int     `json:"captured_payments"`
	RevenueMinor     int64   `json:"revenue_minor"`
}

// Dashboard is the GET /events/:id/dashboard payload.
type Dashboard struct {
	EventID   int64        `json:"event_id"`
	EventName string       `json:"event_name"`
	Totals    Totals       `json:"totals"`
	Branches  []BranchNode `json:"branches"`
}

// BuildDashboard aggregates attendees and payments of one event. Branches,
// years and sections are sorted.
func BuildDashboard(ev *models.Event, attendees []models.Attendee, payments []models.Payment) Dashboard {
	d := Dashboard{EventID: ev.ID, EventName: ev.Name, Branches: []BranchNode{}}

	type key struct {
		branch  string
		year    int
		section string
	}
	leaves := make(map[key]*Counts)
	for i := range attendees {
		a := &attendees[i]
		d.Totals.Attendees++
		if a.Admitted {
			d.Totals.Admitted++
		}
		if a.TokenIssued {
			d.Totals.TokensIssued++
		}
		if a.Delivered {
			d.Totals.Delivered++
		} else if a.DeliveryError != nil {
			d.Totals.DeliveryFailures++
		}
		k := key{branch: a.Branch, year: a.Year, section: a.Section}
		c := leaves[k]
		if c == nil {
			c = &Counts{}
			leaves[k] = c
		}
		c.add(a.Admitted)
	}
	d.Totals.Pending = d.Totals.Attendees - d.Totals.Admitted
	if d.Totals.Attendees > 0 {
		d.Totals.AdmittedPercent = float64(int(float64(d.Totals.Admitted)*1000/float64(d.Totals.Attendees))) / 10
	}
	for _, p := range payments {
		if p.Status == models.PaymentStatusCaptured {
			d.Totals.CapturedPayments++
			d.Totals.RevenueMinor += p.Amount
		}
	}

	keys := make([]key, 0, len(leaves))
	for k := range leaves {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.branch != b.branch {
			return a.branch < b.branch
		}
		if a.year != b.year {
			return a.year < b.year
		}
		return a.section < b.section
	})

	for _, k := range keys {
		c := *leaves[k]
		if n := len(d.Branches); n == 0 || d.Branches[n-1].Branch != k.branch {
			d.Branches = append(d.Branches, BranchNode{Branch: k.branch})
		}
		br := &d.Branches[len(d.Branches)-1]
		if n := len(br.Years); n == 0 || br.Years[n-1].Year != k.year {
			br.Years = append(br.Years, YearNode{Year: k.year})
		}
		yr := &br.Years[len(br.Years)-1]
		yr.Sections = append(yr.Sections, SectionNode{Section: k.section, Counts: c})
		yr.merge(c)
		br.merge(c)
	}
	return d
}

func (c *Counts) add(admitted bool) {
	c.Total++
	if admitted {
		c.Admitted++
	}
}

func (c *Counts) merge(o Counts) {
	c.Total += o.Total
	c.Admitted += o.Admitted
}
