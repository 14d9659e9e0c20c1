package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/enrollpay/internal/clock"
	"github.com/smallbiznis/enrollpay/internal/config"
	"github.com/smallbiznis/enrollpay/internal/enrollment"
	"github.com/smallbiznis/enrollpay/internal/gateway"
	"github.com/smallbiznis/enrollpay/internal/migration"
	"github.com/smallbiznis/enrollpay/internal/notifier"
	"github.com/smallbiznis/enrollpay/internal/observability"
	"github.com/smallbiznis/enrollpay/internal/order"
	"github.com/smallbiznis/enrollpay/internal/server"
	"github.com/smallbiznis/enrollpay/internal/verification"
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

		gateway.Module,
		order.Module,
		enrollment.Module,
		verification.Module,
		notifier.Module,

		server.Module,
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
