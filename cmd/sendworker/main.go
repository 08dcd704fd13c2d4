// Command sendworker is the transfer worker binary that delivers local
// files to one remote host via a Transport, per the CLI surface:
//
//	sendworker <work_dir> <slot> <fsa_id> <fsa_pos> <msg_name> [flags]
//
// It is always launched by the supervisor (internal/supervisor) as a child
// process and terminates through exactly one path, internal/worker.Exit,
// writing its ExitCode to the process exit status for the supervisor to act
// on.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"syscall"
	"time"

	"github.com/afdcore/afd/internal/burst"
	"github.com/afdcore/afd/internal/config"
	"github.com/afdcore/afd/internal/dupcheck"
	"github.com/afdcore/afd/internal/eventlog"
	"github.com/afdcore/afd/internal/housekeeper"
	"github.com/afdcore/afd/internal/logging"
	"github.com/afdcore/afd/internal/metrics"
	"github.com/afdcore/afd/internal/ratelimit"
	"github.com/afdcore/afd/internal/ssa"
	"github.com/afdcore/afd/internal/worker"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	flagAgeLimit    int
	flagNoArchive   bool
	flagRetries     int
	flagResend      bool
	flagToggleTemp  bool
	flagMetricsAddr string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(worker.AllocError))
	}
}

var rootCmd = &cobra.Command{
	Use:          "sendworker <work_dir> <slot> <fsa_id> <fsa_pos> <msg_name>",
	Short:        "Deliver local files to one remote host for a burst",
	Args:         cobra.ExactArgs(5),
	SilenceUsage: true,
	RunE:         runSend,
}

func init() {
	rootCmd.Flags().IntVarP(&flagAgeLimit, "age-limit", "a", 0, "discard spooled files older than this many seconds")
	rootCmd.Flags().BoolVarP(&flagNoArchive, "no-archive", "A", false, "delete sources on success instead of archiving")
	rootCmd.Flags().IntVarP(&flagRetries, "retries", "o", 0, "retry count carried over from the supervisor")
	rootCmd.Flags().BoolVarP(&flagResend, "resend", "r", false, "resend files from the archive directory instead of the outgoing spool")
	rootCmd.Flags().BoolVarP(&flagToggleTemp, "toggle-temp", "t", false, "use the toggled (secondary) real hostname for this burst")
	rootCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "address to serve /metrics on (disabled if empty)")
}

// layout is the on-disk convention this build imposes on <work_dir>: the
// CLI surface names the directory but not what lives inside it, so the
// supervisor and every worker binary must agree on one.
type layout struct {
	root string
}

func (l layout) fsaPath() string { return filepath.Join(l.root, "fsa.dat") }
func (l layout) jobPath(msgName string) string {
	return filepath.Join(l.root, "jobs", msgName+".yaml")
}
func (l layout) outgoingPath(msgName string) string {
	return filepath.Join(l.root, "outgoing", msgName)
}
func (l layout) finFifoPath() string     { return filepath.Join(l.root, "fifos", "sf_fin_fifo") }
func (l layout) trlCalcFifoPath() string { return filepath.Join(l.root, "fifos", "trl_calc_fifo") }
func (l layout) eventLogPath() string    { return filepath.Join(l.root, "log", "event.log") }
func (l layout) housekeeperPath() string { return filepath.Join(l.root, "db", "housekeeper.db") }

// ensureDirs creates every subdirectory this worker writes into; <work_dir>
// itself, jobs/ and outgoing/ are the supervisor's (and AMG's) responsibility
// to have populated.
func (l layout) ensureDirs() error {
	for _, sub := range []string{"fifos", "log", "db"} {
		if err := os.MkdirAll(filepath.Join(l.root, sub), 0o755); err != nil {
			return err
		}
	}
	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	workDir := args[0]
	slot, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("sendworker: bad slot %q: %w", args[1], err)
	}
	fsaID, err := strconv.ParseUint(args[2], 10, 32)
	if err != nil {
		return fmt.Errorf("sendworker: bad fsa_id %q: %w", args[2], err)
	}
	fsaPos, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("sendworker: bad fsa_pos %q: %w", args[3], err)
	}
	msgName := args[4]

	debug.SetPanicOnFault(true)
	l := layout{root: workDir}
	if err := l.ensureDirs(); err != nil {
		return fmt.Errorf("sendworker: preparing work_dir layout: %w", err)
	}

	ssaSeg, err := ssa.Attach(l.fsaPath(), ssa.MaxSlots)
	if err != nil {
		return fmt.Errorf("sendworker: attach FSA: %w", err)
	}
	defer ssaSeg.Close()

	if uint32(fsaID) != ssaSeg.ID() {
		logging.Errorf(msgName, "fsa_id mismatch: supervisor knew %d, segment now %d", fsaID, ssaSeg.ID())
		os.Exit(int(worker.ConnectError))
	}

	host, err := ssaSeg.HostAt(fsaPos)
	if err != nil {
		logging.Errorf(msgName, "no host at fsa_pos %d: %v", fsaPos, err)
		os.Exit(int(worker.ConnectError))
	}
	hostAlias := host.Alias

	eventsFile, err := os.OpenFile(l.eventLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("sendworker: open event log: %w", err)
	}
	defer eventsFile.Close()
	events := eventlog.NewWriter(eventsFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	finFifo, err := burst.OpenFinFifo(ctx, l.finFifoPath())
	if err != nil {
		return fmt.Errorf("sendworker: open fin-fifo: %w", err)
	}

	wctx := worker.NewWorkerContext(hostAlias, slot, ssaSeg, finFifo, events)
	defer wctx.RecoverPanic()

	trlFifo, err := burst.OpenTRLCalcFifo(ctx, l.trlCalcFifoPath())
	if err != nil {
		logging.Debugsignf(msgName, "trl-calc-fifo unavailable, rate-limit pings disabled: %v", err)
	} else {
		defer trlFifo.Close()
	}

	job, err := config.LoadSendJob(l.jobPath(msgName))
	if err != nil {
		wctx.Exit(worker.AllocError)
		return fmt.Errorf("sendworker: load job: %w", err)
	}

	ageLimit := time.Duration(job.AgeLimitSeconds) * time.Second
	if flagAgeLimit > 0 {
		ageLimit = time.Duration(flagAgeLimit) * time.Second
	}

	sourceDir := l.outgoingPath(msgName)
	if flagResend {
		if job.ArchiveDir == "" {
			wctx.Exit(worker.AllocError)
			return fmt.Errorf("sendworker: -r given but job %s has no archive_dir", msgName)
		}
		sourceDir = job.ArchiveDir
	}

	transport, err := buildTransport(ssa.Protocol(host.Protocols), host, job)
	if err != nil {
		wctx.Exit(worker.OpenRemoteError)
		return fmt.Errorf("sendworker: build transport: %w", err)
	}

	addr := host.CurrentHostname()
	if flagToggleTemp {
		addr = host.RealHostname[1]
	}
	if job.Port > 0 {
		addr = fmt.Sprintf("%s:%d", addr, job.Port)
	}
	connect := func() error { return transport.Connect(ctx, addr, job.User, job.Password) }
	if err := connect(); err != nil {
		wctx.Exit(worker.ConnectError)
		return fmt.Errorf("sendworker: connect %s: %w", addr, err)
	}
	defer transport.Quit(ctx)

	sw := &worker.SendWorker{
		Ctx:             wctx,
		Transport:       transport,
		RateLimiter:     ratelimit.New(host.TransferRateLimit, 0),
		TransferTimeout: time.Duration(host.TransferTimeout) * time.Second,
		TRLFifo:         trlFifo,
		DeleteOnDup:     true,
	}

	if job.DupCheck {
		var cache *dupcheck.Cache
		if store, herr := housekeeper.Open(l.housekeeperPath(), 2*time.Second); herr == nil {
			cache = dupcheck.NewWithStore(store)
			defer store.Close()
		} else {
			logging.Debugsignf(msgName, "housekeeper unavailable, dupcheck running memory-only: %v", herr)
			cache = dupcheck.New()
		}
		sw.Dupcheck = cache
		sw.CRCID = dupcheck.CRCID(msgName)
		sw.DupCheckTTL = job.DupCheckTTL
	}

	if flagMetricsAddr != "" {
		srv := &http.Server{Addr: flagMetricsAddr, Handler: metricsMux()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Errorf(msgName, "metrics server: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	waitSecs := time.Duration(host.KeepConnected) * time.Second
	if waitSecs <= 0 {
		waitSecs = 5 * time.Second
	}
	coord := &burst.Coordinator{
		Fin:      finFifo,
		WaitSecs: waitSecs,
		Load: func(msg []byte) (burst.JobRef, burst.ConnectionParams, error) {
			newJob, err := config.LoadSendJob(l.jobPath(msgName))
			if err != nil {
				return burst.JobRef{}, burst.ConnectionParams{}, fmt.Errorf("sendworker: rereading job on hand-off: %w", err)
			}
			return newJob.JobRef(burst.DirectionSend), newJob.ConnectionParams(), nil
		},
		Current:   job.JobRef(burst.DirectionSend),
		ConnParam: job.ConnectionParams(),
	}

	code := runSendLoop(ctx, sw, ssaSeg, hostAlias, host, job, sourceDir, msgName, ageLimit, flagNoArchive, fsaPos, coord)
	for attempt := 0; isRetryableExit(code) && attempt < flagRetries; attempt++ {
		logging.Debugsignf(msgName, "retrying after %s (attempt %d/%d)", code, attempt+1, flagRetries)
		_ = transport.Quit(ctx)
		if err := connect(); err != nil {
			code = worker.ConnectError
			continue
		}
		code = runSendLoop(ctx, sw, ssaSeg, hostAlias, host, job, sourceDir, msgName, ageLimit, flagNoArchive, fsaPos, coord)
	}

	files, bytesMoved, _ := wctx.Stats()
	metrics.FilesDoneTotal.WithLabelValues(hostAlias).Add(float64(files))
	metrics.BytesDoneTotal.WithLabelValues(hostAlias).Add(float64(bytesMoved))
	if code != worker.TransferSuccess && code != worker.NoFilesToSend {
		metrics.ErrorsTotal.WithLabelValues(hostAlias, code.String()).Inc()
	}

	wctx.Exit(code)
	os.Exit(int(code))
	return nil
}

// runSendLoop drives the burst/negotiate/keep-alive cycle for a send
// worker: one RunBurst over whatever is currently spooled, then a
// burst-coordinator negotiation for another hand-off on the same
// connection, falling through to - while the host's keep_connected window
// stays open - KeepAliveSend, followed by a rescan of the spool directory
// for files the collector dropped in during the wait. It stops once a
// burst comes back empty after the keep-alive window closes. A second
// goroutine watches for cancellation so a long keep-alive window still
// reacts promptly to shutdown.
func runSendLoop(ctx context.Context, sw *worker.SendWorker, ssaSeg *ssa.Segment, hostAlias string, host *ssa.HostStatus, job *config.JobDescriptor, sourceDir, dirAlias string, ageLimit time.Duration, noArchive bool, pos int, coord *burst.Coordinator) worker.ExitCode {
	g, gctx := errgroup.WithContext(ctx)
	var finalCode worker.ExitCode
	done := make(chan struct{})

	g.Go(func() error {
		defer close(done)
		for {
			jobs, err := buildSendJobs(job, sourceDir, dirAlias, ageLimit, noArchive)
			if err != nil {
				finalCode = worker.OpenLocalError
				return err
			}
			code, err := sw.RunBurst(gctx, jobs)
			if err != nil || (code != worker.TransferSuccess && code != worker.NoFilesToSend) {
				finalCode = code
				return err
			}

			decision, _, nerr := burst.NegotiateSlot(gctx, ssaSeg, hostAlias, pos, time.Second, coord)
			if nerr != nil {
				if errors.Is(nerr, burst.ErrMisroutedJob) {
					logging.Errorf(dirAlias, "burst coordinator handed this send worker a mismatched job, exiting cleanly: %v", nerr)
					if sw.Ctx.Events != nil {
						_ = sw.Ctx.Events.Write(eventlog.Record{
							Time:   time.Now(),
							Class:  eventlog.ClassHost,
							Type:   eventlog.TypeAuto,
							Action: eventlog.ActionWriteOutOfSync,
							Alias:  hostAlias,
							Fields: []string{"misrouted burst hand-off"},
						})
					}
					finalCode = worker.TransferSuccess
					return nil
				}
				finalCode = worker.ConnectError
				return nerr
			}
			switch decision {
			case burst.Yes:
				sw.Ctx.RecordBurst()
				logging.Infof(dirAlias, "[BURST] reusing connection for next job")
				continue
			case burst.Neither:
				finalCode = worker.TransferSuccess
				return nil
			}

			if host.KeepConnected <= 0 {
				finalCode = worker.TransferSuccess
				return nil
			}
			if err := sw.KeepAliveSend(gctx, time.Duration(host.KeepConnected)*time.Second, time.Second, pos); err != nil {
				finalCode = worker.ConnectError
				return err
			}
			rescan, err := buildSendJobs(job, sourceDir, dirAlias, ageLimit, noArchive)
			if err != nil {
				finalCode = worker.OpenLocalError
				return err
			}
			if len(rescan) == 0 {
				finalCode = worker.TransferSuccess
				return nil
			}
		}
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-done:
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logging.Errorf(dirAlias, "burst loop exited: %v", err)
	}
	return finalCode
}

func isRetryableExit(code worker.ExitCode) bool {
	switch code {
	case worker.ConnectError, worker.ReadRemoteError, worker.WriteRemoteError:
		return true
	default:
		return false
	}
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}
