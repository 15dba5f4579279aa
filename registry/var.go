package registry

import "github.com/flare152/svcdiscovery/discovery/backend"

var _ backend.Backend = (*Client)(nil)
