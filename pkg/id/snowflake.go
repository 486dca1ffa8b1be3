package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
	err  error
)

// Init задает snowflake node для текущего инстанса. Повторные вызовы игнорируются.
func Init(nodeID int64) error {
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New возвращает упорядоченный по времени int64 id (для строк журнала доставки).
// Если Init не вызывался, используется node 0.
func New() int64 {
	if initErr := Init(0); initErr != nil {
		panic(initErr)
	}
	return node.Generate().Int64()
}
