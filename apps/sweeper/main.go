package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/enrollpay/internal/clock"
	"github.com/smallbiznis/enrollpay/internal/config"
	"github.com/smallbiznis/enrollpay/internal/enrollment"
	"github.com/smallbiznis/enrollpay/internal/migration"
	"github.com/smallbiznis/enrollpay/internal/observability"
	"github.com/smallbiznis/enrollpay/internal/order"
	"github.com/smallbiznis/enrollpay/internal/sweeper"
	"github.com/smallbiznis/enrollpay/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		order.Module,
		enrollment.Module,
		sweeper.Module,

		// No server module, this binary only runs the maintenance loop.
		fx.Invoke(sweeper.Start),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
