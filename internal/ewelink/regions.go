package ewelink

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Region identifies one of the independent regional API clusters the
// provider operates. An account's data and tokens live in exactly one
// region, but which one is not known until a call succeeds there.
type Region string

const (
	RegionUS   Region = "us"
	RegionEU   Region = "eu"
	RegionAsia Region = "as"
	RegionCN   Region = "cn"
)

// defaultBaseURLs maps each region to its API cluster.
var defaultBaseURLs = map[Region]string{
	RegionUS:   "https://us-apia.coolkit.cc",
	RegionEU:   "https://eu-apia.coolkit.cc",
	RegionAsia: "https://as-apia.coolkit.cc",
	RegionCN:   "https://cn-apia.coolkit.cn",
}

// DefaultRegionOrder is the probe order used when no region has
// succeeded yet.
var DefaultRegionOrder = []Region{RegionUS, RegionEU, RegionAsia, RegionCN}

// Resolver iterates candidate regions in priority order until an
// operation succeeds in one of them. A successful region is remembered
// for the lifetime of the process and probed first afterwards.
type Resolver struct {
	mu       sync.Mutex
	order    []Region
	baseURLs map[Region]string
}

// NewResolver creates a resolver over the default region set. Base URL
// overrides (e.g. pointing a region at a test server) replace the
// default cluster address for that region.
func NewResolver(overrides map[Region]string) *Resolver {
	urls := make(map[Region]string, len(defaultBaseURLs))
	for region, url := range defaultBaseURLs {
		urls[region] = url
	}
	for region, url := range overrides {
		urls[region] = url
	}

	order := make([]Region, len(DefaultRegionOrder))
	copy(order, DefaultRegionOrder)

	return &Resolver{
		order:    order,
		baseURLs: urls,
	}
}

// BaseURL returns the API cluster address for a region.
func (r *Resolver) BaseURL(region Region) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	url, ok := r.baseURLs[region]
	if !ok {
		return "", fmt.Errorf("unknown region %q", region)
	}
	return url, nil
}

// Regions returns a copy of the current probe order.
func (r *Resolver) Regions() []Region {
	r.mu.Lock()
	defer r.mu.Unlock()

	order := make([]Region, len(r.order))
	copy(order, r.order)
	return order
}

// Remember promotes a region to the front of the probe order.
func (r *Resolver) Remember(region Region) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reordered := make([]Region, 0, len(r.order))
	reordered = append(reordered, region)
	for _, candidate := range r.order {
		if candidate != region {
			reordered = append(reordered, candidate)
		}
	}
	r.order = reordered
}

// RegionFailure records why one region was skipped during a probe.
type RegionFailure struct {
	Region Region
	Err    error
}

// ExhaustedError is returned when an operation failed in every
// candidate region. It retains one failure per region, in probe order,
// for diagnostics.
type ExhaustedError struct {
	Failures []RegionFailure
}

func (e *ExhaustedError) Error() string {
	var sb strings.Builder
	sb.WriteString("all regions failed:")
	for _, failure := range e.Failures {
		sb.WriteString(fmt.Sprintf(" [%s: %v]", failure.Region, failure.Err))
	}
	return sb.String()
}

// TryEach runs op against each candidate region sequentially, stopping
// at the first success. Regions are probed one at a time because the
// provider rate-limits per region and a wrong-region call still counts
// against the quota. Returns the region that succeeded, or an
// ExhaustedError carrying every per-region failure.
func (r *Resolver) TryEach(ctx context.Context, op func(ctx context.Context, region Region, baseURL string) error) (Region, error) {
	var failures []RegionFailure

	for _, region := range r.Regions() {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		baseURL, err := r.BaseURL(region)
		if err != nil {
			failures = append(failures, RegionFailure{Region: region, Err: err})
			continue
		}

		if err := op(ctx, region, baseURL); err != nil {
			failures = append(failures, RegionFailure{Region: region, Err: err})
			continue
		}

		r.Remember(region)
		return region, nil
	}

	return "", &ExhaustedError{Failures: failures}
}
