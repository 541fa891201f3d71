package main

import (
	"context"
	"log"
	"net/http"
	"os"

	bankGateway "onchain-marketplace/gateway/bank"
	ledgerGateway "onchain-marketplace/gateway/ledger"
	bankHandler "onchain-marketplace/handler/bank"
	marketHandler "onchain-marketplace/handler/market"
	bankUsecase "onchain-marketplace/usecase/bank"
	marketUsecase "onchain-marketplace/usecase/market"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

func main() {
	// --- 1. 初期設定 ---
	ownerAddr := os.Getenv("OWNER_ADDRESS")
	if ownerAddr == "" {
		log.Fatal("OWNER_ADDRESS environment variable not set")
	}
	if common.HexToAddress(ownerAddr) == (common.Address{}) {
		log.Fatal("OWNER_ADDRESS must not be the zero address")
	}

	// イベント通知先（未設定なら通知は無効）
	backendBaseURL := os.Getenv("BACKEND_BASE_URL")
	if backendBaseURL == "" {
		log.Println("BACKEND_BASE_URL not set. Event forwarding is disabled.")
	}

	// --- 2. レジャーとバンクの初期化 ---
	bank := bankGateway.NewEthBank()

	marketLedger, err := ledgerGateway.NewMarketLedger(ownerAddr, bank)
	if err != nil {
		log.Fatalf("Failed to initialize marketplace ledger: %v", err)
	}
	log.Printf("Owner Address: %s", ownerAddr)
	log.Printf("Marketplace Contract: %s", marketLedger.GetContractAddress())

	// --- 3. Market機能の依存性注入 ---
	marketUC := marketUsecase.NewMarketUsecase(marketLedger, backendBaseURL)
	marketHdlr := marketHandler.NewMarketHandler(marketUC)

	// イベントリスナーを開始
	ctx := context.Background()
	if err := marketUC.StartEventListener(ctx); err != nil {
		log.Printf("WARNING: Failed to start event listener: %v", err)
	} else {
		log.Println("Market event listener started successfully.")
	}

	// --- 4. Bank機能の依存性注入 ---
	bankUC := bankUsecase.NewBankUsecase(bank)
	bankHdlr := bankHandler.NewBankHandler(bankUC)

	// --- 5. ルーティングの設定 ---
	router := mux.NewRouter()

	// ヘルスチェック用エンドポイント
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	// Market API
	router.HandleFunc("/api/v1/market/items", marketHdlr.HandleListItem).Methods("POST")
	router.HandleFunc("/api/v1/market/items/{itemId}", marketHdlr.HandleGetItem).Methods("GET")
	router.HandleFunc("/api/v1/market/items/{itemId}/buy", marketHdlr.HandleBuyItem).Methods("POST")
	router.HandleFunc("/api/v1/market/items/{itemId}/refund", marketHdlr.HandleRefund).Methods("POST")
	router.HandleFunc("/api/v1/market/withdraw", marketHdlr.HandleWithdraw).Methods("POST")
	router.HandleFunc("/api/v1/market/info", marketHdlr.HandleMarketInfo).Methods("GET")
	router.HandleFunc("/api/v1/market/balance/{address}", marketHdlr.HandleGetBalance).Methods("GET")
	router.HandleFunc("/api/v1/market/events", marketHdlr.HandlePastEvents).Methods("GET")
	router.HandleFunc("/api/v1/market/verify-tx", marketHdlr.HandleVerifyTransaction).Methods("POST")

	// Bank API
	router.HandleFunc("/api/v1/bank/fund", bankHdlr.HandleFundAccount).Methods("POST")
	router.HandleFunc("/api/v1/bank/balance/{address}", bankHdlr.HandleGetBalance).Methods("GET")

	// --- 6. CORSミドルウェアの設定 ---
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	corsHandler := c.Handler(router)

	// --- 7. サーバー起動 ---
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("Onchain Marketplace starting on :%s", port)
	log.Println("Available endpoints:")
	log.Println("  - GET  /health")
	log.Println("  - POST /api/v1/market/items")
	log.Println("  - GET  /api/v1/market/items/{itemId}")
	log.Println("  - POST /api/v1/market/items/{itemId}/buy")
	log.Println("  - POST /api/v1/market/items/{itemId}/refund")
	log.Println("  - POST /api/v1/market/withdraw")
	log.Println("  - GET  /api/v1/market/info")
	log.Println("  - GET  /api/v1/market/balance/{address}")
	log.Println("  - GET  /api/v1/market/events")
	log.Println("  - POST /api/v1/market/verify-tx")
	log.Println("  - POST /api/v1/bank/fund")
	log.Println("  - GET  /api/v1/bank/balance/{address}")

	if err := http.ListenAndServe(":"+port, corsHandler); err != nil {
		log.Fatalf("could not start server: %v", err)
	}
}
