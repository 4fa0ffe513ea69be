package drs

import (
	"context"
	"fmt"
	"sync"

	"github.com/ripcord-io/ripcord"
)

// Fake is an in-memory recovery service used in tests and dry runs. Job
// progression is driven explicitly by the test through CompleteJob and
// SetServerStatus.
type Fake struct {
	mu             sync.Mutex
	jobs           map[string]*ripcord.Job
	nextJob        int
	NotInitialized bool

	// StartJobErr, when set, is returned by the next StartJob call.
	StartJobErr error

	// Applied records launch configurations by server id.
	Applied map[string]*ripcord.LaunchConfig

	// Terminated records instance ids passed to TerminateRecoveryInstances.
	Terminated []string
}

// NewFake creates an empty fake service.
func NewFake() *Fake {
	return &Fake{
		jobs:    make(map[string]*ripcord.Job),
		Applied: make(map[string]*ripcord.LaunchConfig),
	}
}

// ForAccount implements ripcord.RecoveryServiceFactory, returning the fake
// itself for every account.
func (f *Fake) ForAccount(ctx context.Context, target ripcord.TargetAccountContext) (ripcord.RecoveryService, error) {
	return f, nil
}

func (f *Fake) StartJob(ctx context.Context, serverIDs []string, isDrill bool) (*ripcord.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartJobErr != nil {
		err := f.StartJobErr
		f.StartJobErr = nil
		return nil, err
	}
	f.nextJob++
	job := &ripcord.Job{
		ID:      fmt.Sprintf("job-%d", f.nextJob),
		Status:  ripcord.JobStatusStarted,
		IsDrill: isDrill,
	}
	for _, id := range serverIDs {
		job.ParticipatingServers = append(job.ParticipatingServers, &ripcord.ParticipatingServer{
			SourceServerID: id,
			LaunchStatus:   ripcord.LaunchStatusPending,
		})
	}
	f.jobs[job.ID] = job
	return cloneJob(job), nil
}

func (f *Fake) DescribeJob(ctx context.Context, jobID string) (*ripcord.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, ripcord.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (f *Fake) ListJobs(ctx context.Context) ([]*ripcord.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NotInitialized {
		return nil, &ripcord.NotInitializedError{}
	}
	out := make([]*ripcord.Job, 0, len(f.jobs))
	for _, job := range f.jobs {
		out = append(out, cloneJob(job))
	}
	return out, nil
}

func (f *Fake) DescribeRecoveryInstances(ctx context.Context, filter ripcord.RecoveryInstanceFilter) ([]*ripcord.RecoveryInstance, error) {
	return nil, nil
}

func (f *Fake) TerminateRecoveryInstances(ctx context.Context, instanceIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Terminated = append(f.Terminated, instanceIDs...)
	return nil
}

func (f *Fake) UpdateLaunchConfiguration(ctx context.Context, serverID string, config *ripcord.LaunchConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Applied[serverID] = config.Clone()
	return nil
}

func (f *Fake) TagResource(ctx context.Context, resourceID string, tags map[string]string) error {
	return nil
}

// CompleteJob marks a job completed with every server launched.
func (f *Fake) CompleteJob(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return
	}
	job.Status = ripcord.JobStatusCompleted
	for i, server := range job.ParticipatingServers {
		job.ParticipatingServers[i] = &ripcord.ParticipatingServer{
			SourceServerID:     server.SourceServerID,
			LaunchStatus:       ripcord.LaunchStatusLaunched,
			RecoveryInstanceID: "ri-" + server.SourceServerID,
		}
	}
}

// FailJob marks a job completed with the given servers failed and the rest
// launched.
func (f *Fake) FailJob(jobID string, failedServerIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return
	}
	failed := make(map[string]bool, len(failedServerIDs))
	for _, id := range failedServerIDs {
		failed[id] = true
	}
	job.Status = ripcord.JobStatusCompleted
	for _, server := range job.ParticipatingServers {
		if failed[server.SourceServerID] {
			server.LaunchStatus = ripcord.LaunchStatusFailed
		} else {
			server.LaunchStatus = ripcord.LaunchStatusLaunched
			server.RecoveryInstanceID = "ri-" + server.SourceServerID
		}
	}
}

// DropJob removes a job entirely, simulating upstream expiry.
func (f *Fake) DropJob(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, jobID)
}

// LastJobID returns the id of the most recently started job, or empty when
// nothing has started.
func (f *Fake) LastJobID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nextJob == 0 {
		return ""
	}
	return fmt.Sprintf("job-%d", f.nextJob)
}

func cloneJob(job *ripcord.Job) *ripcord.Job {
	out := *job
	out.ParticipatingServers = make([]*ripcord.ParticipatingServer, len(job.ParticipatingServers))
	for i, s := range job.ParticipatingServers {
		copied := *s
		out.ParticipatingServers[i] = &copied
	}
	return &out
}
