package reclaim

import "github.com/lni/dragonboat/v4/logger"

var log = logger.GetLogger("reclaim")
