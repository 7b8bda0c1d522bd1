// Copyright 2025 Philipp Hossner
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kube

import (
	"context"
	"log/slog"
	"sync"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const (
	// leaseDuration is how long a lease stays valid without renewal before
	// a contender may take it over.
	leaseDuration = 15 * time.Second

	// renewPeriod is how often a holder refreshes its lease.
	renewPeriod = 5 * time.Second

	// acquireRetryPeriod is how often a contender re-attempts acquisition.
	acquireRetryPeriod = 2 * time.Second

	// requestTimeout bounds individual API requests.
	requestTimeout = 10 * time.Second
)

// leaseLock implements cluster.NamedLock on a coordination.k8s.io Lease.
//
// The lock is strongly consistent through the apiserver under normal
// operation. When the holder is partitioned away from the apiserver its
// renewals fail and another instance takes the lease over; the partitioned
// holder still believes it holds the lock until it reconnects - the same
// dual-holder window the leadership engine resolves via broadcast.
type leaseLock struct {
	client    kubernetes.Interface
	namespace string
	name      string
	identity  string
	logger    *slog.Logger

	mu        sync.Mutex
	held      bool
	renewStop context.CancelFunc
	renewDone chan struct{}
}

func newLeaseLock(client kubernetes.Interface, namespace, name, identity string, logger *slog.Logger) *leaseLock {
	return &leaseLock{
		client:    client,
		namespace: namespace,
		name:      name,
		identity:  identity,
		logger:    logger.With("lease", name),
	}
}

// Lock implements cluster.NamedLock. It polls for the lease until acquired
// or ctx is cancelled.
func (l *leaseLock) Lock(ctx context.Context) error {
	for {
		acquired, err := l.tryAcquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Debug("Lease acquisition attempt failed", "error", err)
		}
		if acquired {
			l.startRenewal()
			l.logger.Info("Acquired lease", "identity", l.identity)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(acquireRetryPeriod):
		}
	}
}

// Unlock implements cluster.NamedLock. It stops renewal and releases the
// lease if this instance still holds it. Release failures are logged only:
// the lease expires on its own after leaseDuration.
func (l *leaseLock) Unlock() {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return
	}
	l.held = false
	stop := l.renewStop
	done := l.renewDone
	l.mu.Unlock()

	stop()
	<-done

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	lease, err := l.client.CoordinationV1().Leases(l.namespace).Get(ctx, l.name, metav1.GetOptions{})
	if err != nil {
		l.logger.Warn("Failed to fetch lease for release", "error", err)
		return
	}
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity != l.identity {
		return
	}

	lease.Spec.HolderIdentity = nil
	lease.Spec.RenewTime = nil
	if _, err := l.client.CoordinationV1().Leases(l.namespace).Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		l.logger.Warn("Failed to release lease", "error", err)
		return
	}
	l.logger.Info("Released lease", "identity", l.identity)
}

// tryAcquire makes one attempt at taking the lease. It returns (false, nil)
// when another live holder owns it.
func (l *leaseLock) tryAcquire(ctx context.Context) (bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	leases := l.client.CoordinationV1().Leases(l.namespace)
	now := metav1.NewMicroTime(time.Now())
	durationSeconds := int32(leaseDuration / time.Second)

	lease, err := leases.Get(reqCtx, l.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		lease = &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{Name: l.name, Namespace: l.namespace},
			Spec: coordinationv1.LeaseSpec{
				HolderIdentity:       &l.identity,
				LeaseDurationSeconds: &durationSeconds,
				AcquireTime:          &now,
				RenewTime:            &now,
			},
		}
		if _, err := leases.Create(reqCtx, lease, metav1.CreateOptions{}); err != nil {
			if apierrors.IsAlreadyExists(err) {
				return false, nil
			}
			return false, err
		}
		l.markHeld()
		return true, nil
	}
	if err != nil {
		return false, err
	}

	if !l.takeoverAllowed(lease, now) {
		return false, nil
	}

	transitions := int32(1)
	if lease.Spec.LeaseTransitions != nil {
		transitions = *lease.Spec.LeaseTransitions + 1
	}
	lease.Spec.HolderIdentity = &l.identity
	lease.Spec.LeaseDurationSeconds = &durationSeconds
	lease.Spec.AcquireTime = &now
	lease.Spec.RenewTime = &now
	lease.Spec.LeaseTransitions = &transitions

	if _, err := leases.Update(reqCtx, lease, metav1.UpdateOptions{}); err != nil {
		if apierrors.IsConflict(err) {
			return false, nil
		}
		return false, err
	}
	l.markHeld()
	return true, nil
}

// takeoverAllowed reports whether the lease is free, already ours, or has
// expired.
func (l *leaseLock) takeoverAllowed(lease *coordinationv1.Lease, now metav1.MicroTime) bool {
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity == "" {
		return true
	}
	if *lease.Spec.HolderIdentity == l.identity {
		return true
	}
	if lease.Spec.RenewTime == nil {
		return true
	}
	duration := leaseDuration
	if lease.Spec.LeaseDurationSeconds != nil {
		duration = time.Duration(*lease.Spec.LeaseDurationSeconds) * time.Second
	}
	return now.Time.Sub(lease.Spec.RenewTime.Time) > duration
}

func (l *leaseLock) markHeld() {
	l.mu.Lock()
	l.held = true
	l.mu.Unlock()
}

// startRenewal launches the background renewal loop for a freshly acquired
// lease.
func (l *leaseLock) startRenewal() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	l.mu.Lock()
	l.renewStop = cancel
	l.renewDone = done
	l.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(renewPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.renew(ctx)
			}
		}
	}()
}

// renew refreshes the lease's renew time. If the lease was taken over while
// we were unreachable, renewal stops touching it.
func (l *leaseLock) renew(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	leases := l.client.CoordinationV1().Leases(l.namespace)
	lease, err := leases.Get(reqCtx, l.name, metav1.GetOptions{})
	if err != nil {
		l.logger.Warn("Failed to fetch lease for renewal", "error", err)
		return
	}
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity != l.identity {
		l.logger.Warn("Lease was taken over by another holder",
			"holder", holderOrEmpty(lease.Spec.HolderIdentity))
		return
	}

	now := metav1.NewMicroTime(time.Now())
	lease.Spec.RenewTime = &now
	if _, err := leases.Update(reqCtx, lease, metav1.UpdateOptions{}); err != nil {
		l.logger.Warn("Failed to renew lease", "error", err)
	}
}

func holderOrEmpty(holder *string) string {
	if holder == nil {
		return ""
	}
	return *holder
}
