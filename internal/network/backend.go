package network

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"sync"
)

var (
	// muBackends protects backendsCache: backends are shared by all networks on the same device.
	muBackends    sync.Mutex
	backendsCache = make(map[string]backends.Backend)

	// muNewExec is used to synchronize the creation of executors.
	muNewExec sync.Mutex
)

// backendFor returns the backend for the given device, creating it on the first use.
//
// The device is a GoMLX backend configuration (e.g.: "xla:cuda" or "go"). An empty device
// selects the default backend, which can be configured with $GOMLX_BACKEND.
func backendFor(device string) (backend backends.Backend, err error) {
	muBackends.Lock()
	defer muBackends.Unlock()
	if backend, found := backendsCache[device]; found {
		return backend, nil
	}
	err = exceptions.TryCatch[error](func() {
		if device == "" {
			backend = backends.New()
		} else {
			backend = backends.NewWithConfig(device)
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create backend for device %q", device)
	}
	klog.V(1).Infof("Created backend %q for device %q", backend.Name(), device)
	backendsCache[device] = backend
	return backend, nil
}
