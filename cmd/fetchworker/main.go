// Command fetchworker is the transfer worker binary that retrieves files
// from one remote directory into local storage, per the CLI surface:
//
//	fetchworker <work_dir> <slot> <fsa_id> <fsa_pos> <dir_alias> [flags]
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
	"github.com/afdcore/afd/internal/fra"
	"github.com/afdcore/afd/internal/housekeeper"
	"github.com/afdcore/afd/internal/logging"
	"github.com/afdcore/afd/internal/metrics"
	"github.com/afdcore/afd/internal/ratelimit"
	"github.com/afdcore/afd/internal/rl"
	"github.com/afdcore/afd/internal/ssa"
	"github.com/afdcore/afd/internal/worker"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	flagDistributedHelper bool
	flagRetries           int
	flagToggleTemp        bool
	flagMetricsAddr       string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(worker.AllocError))
	}
}

var rootCmd = &cobra.Command{
	Use:          "fetchworker <work_dir> <slot> <fsa_id> <fsa_pos> <dir_alias>",
	Short:        "Retrieve files from one remote directory for a burst",
	Args:         cobra.ExactArgs(5),
	SilenceUsage: true,
	RunE:         runFetch,
}

func init() {
	rootCmd.Flags().BoolVarP(&flagDistributedHelper, "distributed-helper", "d", false, "run as a distributed-helper fetch worker")
	rootCmd.Flags().IntVarP(&flagRetries, "retries", "o", 0, "retry count carried over from the supervisor")
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
func (l layout) fraPath() string { return filepath.Join(l.root, "fra.dat") }
func (l layout) rlPath(alias string) string {
	return filepath.Join(l.root, "rl", alias+".dat")
}
func (l layout) jobPath(alias string) string {
	return filepath.Join(l.root, "jobs", alias+".yaml")
}
func (l layout) finFifoPath() string     { return filepath.Join(l.root, "fifos", "sf_fin_fifo") }
func (l layout) trlCalcFifoPath() string { return filepath.Join(l.root, "fifos", "trl_calc_fifo") }
func (l layout) eventLogPath() string    { return filepath.Join(l.root, "log", "event.log") }
func (l layout) housekeeperPath() string { return filepath.Join(l.root, "db", "housekeeper.db") }

// ensureDirs creates every subdirectory this worker writes into; <work_dir>
// itself and jobs/ are the supervisor's responsibility to have populated.
func (l layout) ensureDirs() error {
	for _, sub := range []string{"rl", "fifos", "log", "db"} {
		if err := os.MkdirAll(filepath.Join(l.root, sub), 0o755); err != nil {
			return err
		}
	}
	return nil
}

func runFetch(cmd *cobra.Command, args []string) error {
	workDir := args[0]
	slot, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("fetchworker: bad slot %q: %w", args[1], err)
	}
	fsaID, err := strconv.ParseUint(args[2], 10, 32)
	if err != nil {
		return fmt.Errorf("fetchworker: bad fsa_id %q: %w", args[2], err)
	}
	fsaPos, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("fetchworker: bad fsa_pos %q: %w", args[3], err)
	}
	dirAlias := args[4]

	debug.SetPanicOnFault(true)
	l := layout{root: workDir}
	if err := l.ensureDirs(); err != nil {
		return fmt.Errorf("fetchworker: preparing work_dir layout: %w", err)
	}

	ssaSeg, err := ssa.Attach(l.fsaPath(), ssa.MaxSlots)
	if err != nil {
		return fmt.Errorf("fetchworker: attach FSA: %w", err)
	}
	defer ssaSeg.Close()

	if uint32(fsaID) != ssaSeg.ID() {
		logging.Errorf(dirAlias, "fsa_id mismatch: supervisor knew %d, segment now %d", fsaID, ssaSeg.ID())
		os.Exit(int(worker.ConnectError))
	}

	host, err := ssaSeg.HostAt(fsaPos)
	if err != nil {
		logging.Errorf(dirAlias, "no host at fsa_pos %d: %v", fsaPos, err)
		os.Exit(int(worker.ConnectError))
	}
	hostAlias := host.Alias

	eventsFile, err := os.OpenFile(l.eventLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("fetchworker: open event log: %w", err)
	}
	defer eventsFile.Close()
	events := eventlog.NewWriter(eventsFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	finFifo, err := burst.OpenFinFifo(ctx, l.finFifoPath())
	if err != nil {
		return fmt.Errorf("fetchworker: open fin-fifo: %w", err)
	}

	wctx := worker.NewWorkerContext(hostAlias, slot, ssaSeg, finFifo, events)
	defer wctx.RecoverPanic()

	trlFifo, err := burst.OpenTRLCalcFifo(ctx, l.trlCalcFifoPath())
	if err != nil {
		logging.Debugsignf(dirAlias, "trl-calc-fifo unavailable, rate-limit pings disabled: %v", err)
	} else {
		defer trlFifo.Close()
	}

	fraSeg, err := fra.Attach(l.fraPath(), 0)
	if err != nil {
		wctx.Exit(worker.AllocError)
		return fmt.Errorf("fetchworker: attach FRA: %w", err)
	}
	defer fraSeg.Close()

	rlSeg, err := rl.Attach(dirAlias, l.rlPath(dirAlias), 0)
	if err != nil {
		wctx.Exit(worker.AllocError)
		return fmt.Errorf("fetchworker: attach RL: %w", err)
	}
	defer rlSeg.Detach(true)

	job, err := config.LoadFetchJob(l.jobPath(dirAlias))
	if err != nil {
		wctx.Exit(worker.AllocError)
		return fmt.Errorf("fetchworker: load job: %w", err)
	}

	if flagDistributedHelper {
		workerToken := fmt.Sprintf("%s-%d", hostAlias, os.Getpid())
		var claimed bool
		if err := fraSeg.MutateDir(dirAlias, func(d *fra.DirStatus) {
			claimed = d.ClaimScanning(workerToken)
		}); err != nil {
			wctx.Exit(worker.AllocError)
			return fmt.Errorf("fetchworker: claim directory scanning: %w", err)
		}
		if !claimed {
			logging.Debugsignf(dirAlias, "another distributed-helper worker already owns directory scanning")
			code := wctx.Exit(worker.NoFilesToSend)
			os.Exit(int(code))
			return nil
		}
		defer func() {
			_ = fraSeg.MutateDir(dirAlias, func(d *fra.DirStatus) {
				d.ReleaseScanning(workerToken)
			})
		}()
	}

	transport, err := buildTransport(ssa.Protocol(host.Protocols), host, job)
	if err != nil {
		wctx.Exit(worker.OpenRemoteError)
		return fmt.Errorf("fetchworker: build transport: %w", err)
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
		return fmt.Errorf("fetchworker: connect %s: %w", addr, err)
	}
	defer transport.Quit(ctx)

	fw := &worker.FetchWorker{
		Ctx:             wctx,
		RL:              rlSeg,
		FRA:             fraSeg,
		DirAlias:        dirAlias,
		Transport:       transport,
		RateLimiter:     ratelimit.New(host.TransferRateLimit, 0),
		LocalRoot:       job.Path,
		TransferTimeout: time.Duration(host.TransferTimeout) * time.Second,
		TRLFifo:         trlFifo,
	}

	if job.DupCheck {
		var cache *dupcheck.Cache
		if store, herr := housekeeper.Open(l.housekeeperPath(), 2*time.Second); herr == nil {
			cache = dupcheck.NewWithStore(store)
			defer store.Close()
		} else {
			logging.Debugsignf(dirAlias, "housekeeper unavailable, dupcheck running memory-only: %v", herr)
			cache = dupcheck.New()
		}
		fw.Dupcheck = cache
		fw.CRCID = dupcheck.CRCID(dirAlias)
		fw.DupCheckTTL = job.DupCheckTTL
	}

	if flagMetricsAddr != "" {
		srv := &http.Server{Addr: flagMetricsAddr, Handler: metricsMux()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Errorf(dirAlias, "metrics server: %v", err)
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
			newJob, err := config.LoadFetchJob(l.jobPath(dirAlias))
			if err != nil {
				return burst.JobRef{}, burst.ConnectionParams{}, fmt.Errorf("fetchworker: rereading job on hand-off: %w", err)
			}
			return newJob.JobRef(burst.DirectionFetch), newJob.ConnectionParams(), nil
		},
		Current:   job.JobRef(burst.DirectionFetch),
		ConnParam: job.ConnectionParams(),
	}

	code := runFetchLoop(ctx, fw, ssaSeg, hostAlias, host, fsaPos, coord)
	for attempt := 0; isRetryableExit(code) && attempt < flagRetries; attempt++ {
		logging.Debugsignf(dirAlias, "retrying after %s (attempt %d/%d)", code, attempt+1, flagRetries)
		_ = transport.Quit(ctx)
		if err := connect(); err != nil {
			code = worker.ConnectError
			continue
		}
		code = runFetchLoop(ctx, fw, ssaSeg, hostAlias, host, fsaPos, coord)
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

// runFetchLoop drives the burst/negotiate/keep-alive cycle: one RunBurst,
// then a burst-coordinator negotiation for another job on the same
// connection, falling through to KeepAlive while the host's keep_connected
// window stays open, until either side says stop. A second goroutine
// watches for cancellation so a long keep-alive window still reacts
// promptly to shutdown.
func runFetchLoop(ctx context.Context, fw *worker.FetchWorker, ssaSeg *ssa.Segment, hostAlias string, host *ssa.HostStatus, pos int, coord *burst.Coordinator) worker.ExitCode {
	g, gctx := errgroup.WithContext(ctx)
	var finalCode worker.ExitCode
	done := make(chan struct{})

	g.Go(func() error {
		defer close(done)
		for {
			code, err := fw.RunBurst(gctx)
			if err != nil || code != worker.TransferSuccess {
				finalCode = code
				return err
			}

			decision, _, nerr := burst.NegotiateSlot(gctx, ssaSeg, hostAlias, pos, time.Second, coord)
			if nerr != nil {
				if errors.Is(nerr, burst.ErrMisroutedJob) {
					logging.Errorf(fw.DirAlias, "burst coordinator handed this fetch worker a mismatched job, exiting cleanly: %v", nerr)
					if fw.Ctx.Events != nil {
						_ = fw.Ctx.Events.Write(eventlog.Record{
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
				fw.Ctx.RecordBurst()
				logging.Infof(fw.DirAlias, "[BURST] reusing connection for next job")
				continue
			case burst.Neither:
				finalCode = worker.TransferSuccess
				return nil
			}

			if host.KeepConnected <= 0 {
				finalCode = worker.TransferSuccess
				return nil
			}
			rescan, err := fw.KeepAlive(gctx, time.Duration(host.KeepConnected)*time.Second, time.Second, pos)
			if err != nil {
				finalCode = worker.ConnectError
				return err
			}
			if !rescan {
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
		logging.Errorf(fw.DirAlias, "burst loop exited: %v", err)
	}
	return finalCode
}

// isRetryableExit reports whether code belongs to the transient,
// connection-level error class that is worth another attempt from the same
// worker process rather than handing the job back to the supervisor.
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
