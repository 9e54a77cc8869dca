package poolmanager

import "github.com/oriys/capsule/internal/sandboxerr"

var errClosed = sandboxerr.New(sandboxerr.KindPoolClosed, "pool manager is shut down")
