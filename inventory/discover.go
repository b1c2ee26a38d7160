package inventory

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"printmaster/fleetscan/collector"
)

// DefaultServices are the DNS-SD service types printers advertise.
var DefaultServices = []string{"_ipp._tcp", "_ipps._tcp", "_printer._tcp", "_http._tcp"}

// Browser is the subset of *zeroconf.Resolver used for discovery.
type Browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// DiscoverOptions controls an mDNS sweep.
type DiscoverOptions struct {
	Services []string
	Timeout  time.Duration
	// NewBrowser returns a browser per service type. Defaults to a zeroconf resolver.
	NewBrowser func() (Browser, error)
	Log        interface {
		Info(msg string, context ...interface{})
		Warn(msg string, context ...interface{})
	}
}

func defaultBrowser() (Browser, error) {
	return zeroconf.NewResolver(nil)
}

// Discover browses the local network for the configured time and returns
// one record per IPv4 address, sorted by address.
func Discover(ctx context.Context, opts DiscoverOptions) ([]collector.DeviceRecord, error) {
	services := opts.Services
	if len(services) == 0 {
		services = DefaultServices
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	newBrowser := opts.NewBrowser
	if newBrowser == nil {
		newBrowser = defaultBrowser
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	type ranked struct {
		rec  collector.DeviceRecord
		rank int
	}
	var (
		mu   sync.Mutex
		seen = make(map[string]ranked)
		wg   sync.WaitGroup
		errs []error
	)

	// An address advertised under several service types keeps the record
	// from the earliest service in the list.
	for rank, st := range services {
		browser, err := newBrowser()
		if err != nil {
			return nil, fmt.Errorf("mdns resolver: %w", err)
		}

		entries := make(chan *zeroconf.ServiceEntry)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case e, ok := <-entries:
					if !ok {
						return
					}
					mu.Lock()
					for _, rec := range recordsFromEntry(st, e) {
						if prev, dup := seen[rec.Address]; !dup || rank < prev.rank {
							seen[rec.Address] = ranked{rec: rec, rank: rank}
						}
					}
					mu.Unlock()
				}
			}
		}()

		if opts.Log != nil {
			opts.Log.Info("mDNS browse start", "service", st)
		}
		if err := browser.Browse(ctx, st, "local.", entries); err != nil {
			if opts.Log != nil {
				opts.Log.Warn("mDNS browse error", "service", st, "error", err)
			}
			mu.Lock()
			errs = append(errs, fmt.Errorf("%s: %w", st, err))
			mu.Unlock()
		}
	}

	<-ctx.Done()
	wg.Wait()

	if len(seen) == 0 && len(errs) == len(services) {
		return nil, errs[0]
	}

	records := make([]collector.DeviceRecord, 0, len(seen))
	for _, r := range seen {
		records = append(records, r.rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return addressLess(records[i].Address, records[j].Address)
	})
	return records, nil
}

func recordsFromEntry(service string, e *zeroconf.ServiceEntry) []collector.DeviceRecord {
	if e == nil {
		return nil
	}
	name := unescapeInstance(e.Instance)
	var out []collector.DeviceRecord
	for _, ip := range e.AddrIPv4 {
		addr := ip.String()
		// Web UIs advertised on a non-standard port need it in the address.
		if service == "_http._tcp" && e.Port != 0 && e.Port != 80 {
			addr = net.JoinHostPort(addr, strconv.Itoa(e.Port))
		}
		rec := collector.DeviceRecord{
			Address:     addr,
			DisplayName: name,
			Extra:       map[string]any{"service": service},
		}
		if rec.DisplayName == "" {
			rec.DisplayName = addr
		}
		if host := strings.TrimSuffix(e.HostName, "."); host != "" {
			rec.Extra["hostname"] = host
		}
		out = append(out, rec)
	}
	return out
}

func unescapeInstance(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, `\ `, " "))
}

// addressLess orders IP addresses numerically and falls back to string order.
func addressLess(a, b string) bool {
	pa, errA := netip.ParseAddrPort(withPort(a))
	pb, errB := netip.ParseAddrPort(withPort(b))
	if errA != nil || errB != nil {
		return a < b
	}
	if c := pa.Addr().Compare(pb.Addr()); c != 0 {
		return c < 0
	}
	return pa.Port() < pb.Port()
}

func withPort(s string) string {
	if _, _, err := net.SplitHostPort(s); err == nil {
		return s
	}
	return net.JoinHostPort(s, "0")
}
