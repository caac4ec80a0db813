package pipeline

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/shpitdev/outreach-contact-pipeline/pkg/redact"
)

// ReadJobsCSV reads jobs from a CSV with a header row. A "domain" or "url"
// column is required; "prospect_id" is optional. Column names are matched
// case-insensitively and extra columns are ignored. Rows with neither a
// domain nor a URL are skipped.
func ReadJobsCSV(r io.Reader) ([]Job, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "read header")
	}
	index := map[string]int{}
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	_, hasDomain := index["domain"]
	_, hasURL := index["url"]
	if !hasDomain && !hasURL {
		return nil, eris.New(`missing required column "domain" or "url"`)
	}

	var jobs []Job
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return jobs, nil
		}
		if err != nil {
			return nil, eris.Wrapf(err, "read row %d", line)
		}
		get := func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		job := Job{Domain: get("domain"), URL: get("url"), ProspectID: get("prospect_id")}
		if job.Domain == "" && job.URL == "" {
			continue
		}
		jobs = append(jobs, job)
	}
}

// ContactRow is one line of the output CSV. Jobs that found nothing or
// failed still get a single row so every input is accounted for.
type ContactRow struct {
	ProspectID         string
	Domain             string
	Email              string
	Name               string
	Title              string
	LinkedInURL        string
	Source             string
	ConfidenceScore    string
	Tier               string
	VerificationStatus string
	SourcesUsed        string
	TotalCostCents     string
	Cached             string
	Status             string
	Error              string
}

func ContactHeader() []string {
	return []string{
		"prospect_id",
		"domain",
		"email",
		"name",
		"title",
		"linkedin_url",
		"source",
		"confidence_score",
		"tier",
		"verification_status",
		"sources_used",
		"total_cost_cents",
		"cached",
		"status",
		"error",
	}
}

// Rows flattens batch outcomes into output rows, in outcome order.
func Rows(outcomes []Outcome) []ContactRow {
	var rows []ContactRow
	for _, o := range outcomes {
		r := o.Result
		base := ContactRow{
			ProspectID:     r.ProspectID,
			Domain:         r.Domain,
			SourcesUsed:    strings.Join(r.SourcesUsed, "|"),
			TotalCostCents: strconv.Itoa(r.TotalCostCents),
			Cached:         strconv.FormatBool(r.Cached),
		}
		if base.ProspectID == "" {
			base.ProspectID = o.Job.ProspectID
		}
		if base.Domain == "" {
			base.Domain = o.Job.Domain
		}
		switch {
		case o.Err != nil:
			base.Status = "error"
			base.Error = redact.Truncate(redact.Secrets(o.Err.Error()), 300)
			rows = append(rows, base)
		case len(r.Contacts) == 0:
			base.Status = "empty"
			rows = append(rows, base)
		default:
			for _, c := range r.Contacts {
				row := base
				row.Status = "found"
				row.Email = c.Email
				row.Name = c.Name
				row.Title = c.Title
				row.LinkedInURL = c.LinkedInURL
				row.Source = string(c.Source)
				row.ConfidenceScore = strconv.Itoa(c.ConfidenceScore)
				row.Tier = string(c.Tier)
				row.VerificationStatus = string(c.VerificationStatus)
				rows = append(rows, row)
			}
		}
	}
	return rows
}

// WriteContactsCSV writes rows under ContactHeader.
func WriteContactsCSV(w io.Writer, rows []ContactRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ContactHeader()); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{
			r.ProspectID,
			r.Domain,
			r.Email,
			r.Name,
			r.Title,
			r.LinkedInURL,
			r.Source,
			r.ConfidenceScore,
			r.Tier,
			r.VerificationStatus,
			r.SourcesUsed,
			r.TotalCostCents,
			r.Cached,
			r.Status,
			r.Error,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
