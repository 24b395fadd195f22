package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tgdl/config"
	"tgdl/internal/logging"
	"tgdl/internal/upstream"
)

var qrloginCmd = &cobra.Command{
	Use:   "qrlogin",
	Short: "Authenticate a user via a scannable QR login token printed to the terminal.",
	Run:   runQRLogin,
}

func runQRLogin(cmd *cobra.Command, args []string) {
	logging.Init(false, "info")
	log := logging.L()
	config.Load(log, cmd)
	logging.Init(config.ValueOf.Dev, config.ValueOf.LogLevel)
	log = logging.L()

	broker, err := upstream.NewBroker(log, config.ValueOf.ApiID, config.ValueOf.ApiHash, config.ValueOf.SessionDir)
	if err != nil {
		log.Fatal("failed to construct upstream broker", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	sessionKey, token, expires, err := broker.StartQRLogin(ctx)
	if err != nil {
		log.Fatal("failed to start qr login", zap.Error(err))
	}
	upstream.WriteQRTerminal(os.Stdout, token)
	fmt.Printf("Scan the QR code above before %s. session_key=%s\n", expires.Format(time.RFC3339), sessionKey)

	for {
		select {
		case <-ctx.Done():
			fmt.Println("qr login expired, run again to retry")
			return
		default:
		}

		authenticated, expired, info, err := broker.CheckQRStatus(ctx, sessionKey)
		if err != nil {
			log.Fatal("failed to check qr status", zap.Error(err))
		}
		if expired {
			fmt.Println("qr login expired, run again to retry")
			return
		}
		if authenticated {
			fmt.Printf("logged in as %s %s (user_id=%d)\n", info.FirstName, info.LastName, info.UserID)
			return
		}
		time.Sleep(2 * time.Second)
	}
}
