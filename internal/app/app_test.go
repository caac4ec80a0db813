package app_test

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/outreach-contact-pipeline/internal/app"
	"github.com/shpitdev/outreach-contact-pipeline/internal/contact"
	"github.com/shpitdev/outreach-contact-pipeline/internal/jobqueue"
	"github.com/shpitdev/outreach-contact-pipeline/internal/orchestrator"
	"github.com/shpitdev/outreach-contact-pipeline/internal/pipeline"
	"github.com/shpitdev/outreach-contact-pipeline/internal/scrape"
	"github.com/shpitdev/outreach-contact-pipeline/internal/store"
)

type noScrape struct{}

func (noScrape) FindByScraping(context.Context, string, string) scrape.Result { return scrape.Result{} }

// tableFinder returns fixed contacts per domain; unknown domains fail.
type tableFinder map[string][]contact.Scored

func (f tableFinder) FindContacts(_ context.Context, req orchestrator.Request) (orchestrator.Result, error) {
	contacts, ok := f[req.Domain]
	if !ok {
		return orchestrator.Result{}, errors.New("upstream exploded")
	}
	return orchestrator.Result{Contacts: contacts, SourcesUsed: []string{orchestrator.StageDomainSearch}, TotalCostCents: 5}, nil
}

func scored(email, name string, score int) contact.Scored {
	return contact.Scored{
		Candidate:          contact.Candidate{Email: email, Name: name, Source: contact.SourceDomainSearch},
		ConfidenceScore:    score,
		Tier:               contact.TierB,
		VerificationStatus: contact.StatusRisky,
	}
}

func TestRunLocal_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "jobs.csv")
	out := filepath.Join(dir, "contacts.csv")
	require.NoError(t, os.WriteFile(in, []byte("domain,prospect_id\nacme.com,p1\nempty.io,p2\nboom.dev,p3\n"), 0o600))

	repo := store.NewMemoryRepository()
	proc := pipeline.NewProcessor(noScrape{}, tableFinder{
		"acme.com": {scored("ceo@acme.com", "Ann Lee", 60), scored("ed@acme.com", "", 55)},
		"empty.io": nil,
	}, pipeline.WithRepository(repo))

	err := app.RunLocal(context.Background(), in, out, proc, pipeline.BatchOptions{Workers: 2}, nil)
	require.NoError(t, err)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 5)
	assert.Equal(t, pipeline.ContactHeader(), records[0])

	status := map[string][]string{}
	for _, r := range records[1:] {
		status[r[0]] = append(status[r[0]], r[13])
	}
	assert.Equal(t, []string{"found", "found"}, status["p1"])
	assert.Equal(t, []string{"empty"}, status["p2"])
	assert.Equal(t, []string{"error"}, status["p3"])

	assert.Len(t, repo.Contacts("p1"), 2)
	assert.ElementsMatch(t, []string{"p1"}, repo.ProspectIDs())
}

func TestRunLocal_MissingInput(t *testing.T) {
	proc := pipeline.NewProcessor(noScrape{}, tableFinder{})
	err := app.RunLocal(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), "out.csv", proc, pipeline.BatchOptions{Workers: 1}, nil)
	assert.Error(t, err)
}

func TestQueueHandler(t *testing.T) {
	proc := pipeline.NewProcessor(noScrape{}, tableFinder{"acme.com": {scored("ceo@acme.com", "Ann Lee", 60)}})
	handle := app.QueueHandler(proc, time.Minute)

	out, err := handle(context.Background(), jobqueue.Job{JobID: "j1", Query: jobqueue.Query{URL: "https://acme.com/x", ProspectID: "p1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Found)

	_, err = handle(context.Background(), jobqueue.Job{JobID: "j2", Query: jobqueue.Query{Domain: "boom.dev"}})
	assert.ErrorContains(t, err, "upstream exploded")
}

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

func TestRunWorker_OpsFailureStopsConsumer(t *testing.T) {
	stopped := make(chan struct{})
	consumer := runnerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return nil
	})
	ops := runnerFunc(func(context.Context) error { return errors.New("address in use") })

	err := app.RunWorker(context.Background(), consumer, ops)
	assert.ErrorContains(t, err, "address in use")
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("consumer was not stopped")
	}
}
