package cmd

import (
	"fmt"
	"net/http"

	"bragi/internal/apihandlers"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	log "github.com/sirupsen/logrus"
)

var (
	serveAddr string
	servePort string
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run Bragi as an HTTP API server",
	Long: `Starts an HTTP server exposing batch creation, job status, credit and
usage endpoints for client-facing progress UIs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		router := gin.Default() // Includes logger and recovery middleware

		apiHandler := apihandlers.NewAPIHandler(appInstance)

		v1 := router.Group("/api/v1")
		{
			batchGroup := v1.Group("/batches")
			{
				batchGroup.POST("", apiHandler.CreateBatchHandler)
				batchGroup.GET("", apiHandler.ListBatchesHandler)
				batchGroup.GET("/:id", apiHandler.GetBatchHandler)
				batchGroup.POST("/:id/cancel", apiHandler.CancelBatchHandler)
				batchGroup.POST("/:id/retry", apiHandler.RetryBatchHandler)
			}

			creditGroup := v1.Group("/credits")
			{
				creditGroup.GET("/:user_id", apiHandler.BalanceHandler)
				creditGroup.POST("/:user_id/grant", apiHandler.GrantHandler)
			}

			v1.POST("/generate", apiHandler.GenerateHandler)
			v1.GET("/usage", apiHandler.UsageHandler)
		}

		router.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		listenAddr := fmt.Sprintf("%s:%s", serveAddr, servePort)
		log.Printf("Starting Bragi API server on http://%s", listenAddr)

		if err := router.Run(listenAddr); err != nil {
			log.Printf("ERROR: Failed to run API server: %v", err)
			return fmt.Errorf("failed to run API server: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "localhost", "Address to listen on (e.g., '0.0.0.0' for all interfaces)")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on")
}
