package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	libp2p_host "github.com/libp2p/go-libp2p/core/host"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"

	"github.com/edgeoffload/dispatch/internal/core"
	"github.com/edgeoffload/dispatch/internal/device"
	"github.com/edgeoffload/dispatch/internal/dispatch"
	"github.com/edgeoffload/dispatch/internal/network"
)

const numStations = 4
const devicesPerStation = 2
const numTasks = 50

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := context.Background()

	fmt.Println("[INFO] Creating mocknet...")
	mn := mocknet.New()
	defer mn.Close()

	dialer, err := mn.GenPeer()
	if err != nil {
		panic(err)
	}
	transport, err := network.NewLibp2pTransport(
		network.WithDialer(dialer),
		network.WithHostFactory(func(core.Endpoint) (libp2p_host.Host, error) { return mn.GenPeer() }),
		network.WithTransportLogger(logger),
	)
	if err != nil {
		panic(err)
	}
	defer transport.Close()

	specs := make([]dispatch.StationSpec, 0, numStations)
	for i := 0; i < numStations; i++ {
		pool := device.NewPool()
		for j := 0; j < devicesPerStation; j++ {
			ep := core.Endpoint{Address: fmt.Sprintf("10.0.%d.%d", i+1, j+10), Port: 9100}
			d := device.New(ep, float64(rand.Intn(40)), float64(rand.Intn(16)), float64(rand.Intn(100)), logger)
			if err := transport.Handle(ep, d.Handle); err != nil {
				panic(err)
			}
			pool.Add(d)
		}
		specs = append(specs, dispatch.StationSpec{
			Endpoint: core.Endpoint{Address: fmt.Sprintf("10.0.%d.1", i+1), Port: 9001},
			Offers:   pool,
		})
	}

	ledger := dispatch.NewMemoryLedger()
	container, err := dispatch.NewContainer(specs, ledger, transport, dispatch.WithContainerLogger(logger))
	if err != nil {
		panic(err)
	}
	cloud := dispatch.NewCloudServer(core.Endpoint{Address: "10.0.0.1", Port: 9000}, dispatch.WithCloudLogger(logger))
	if err := transport.Handle(cloud.Endpoint(), cloud.Handle); err != nil {
		panic(err)
	}
	if err := container.LinkCloud(cloud.Endpoint()); err != nil {
		panic(err)
	}
	if err := container.Attach(); err != nil {
		panic(err)
	}

	var mu sync.Mutex
	outcomes := map[dispatch.Outcome]int{}
	container.SetObserver(func(d dispatch.Decision) {
		mu.Lock()
		outcomes[d.Outcome]++
		mu.Unlock()
	})

	fmt.Println("[INFO] Linking all nodes...")
	if err := mn.LinkAll(); err != nil {
		panic(err)
	}
	if err := mn.ConnectAllButSelf(); err != nil {
		panic(err)
	}

	fmt.Println("[INFO] Starting load test...")
	var wg sync.WaitGroup
	for k := 0; k < numTasks; k++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			task := core.NewTask(float64(rand.Intn(30)), float64(rand.Intn(12)), float64(rand.Intn(120)))
			if _, err := container.Submit(ctx, idx%numStations, task); err != nil {
				fmt.Printf("[ERROR] Task %s: %v\n", task.ID, err)
			}
		}(k)
	}
	wg.Wait()

	fmt.Println("[INFO] Starting penetration test...")
	station, _ := container.Get(0)
	host, _ := transport.Host(station.Endpoint())
	for i := 0; i < numStations; i++ {
		malformed := make([]byte, rand.Intn(100)+1)
		for k := range malformed {
			malformed[k] = byte(rand.Intn(256))
		}
		resp, err := sendRaw(ctx, dialer, host, malformed)
		if err != nil {
			fmt.Printf("[PenTest ERROR] %v\n", err)
		} else {
			fmt.Printf("[PenTest RECV] %d bytes -> %q\n", len(malformed), resp)
		}
	}

	deadline := time.Now().Add(10 * time.Second)
	for ledger.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	stats := cloud.Stats()
	fmt.Printf("[INFO] Outcomes: local=%d peer=%d cloud=%d\n",
		outcomes[dispatch.OutcomeLocal], outcomes[dispatch.OutcomePeer], outcomes[dispatch.OutcomeCloud])
	fmt.Printf("[INFO] Cloud accepted=%d edge_placed=%d duplicates=%d\n", stats.Accepted, stats.EdgePlaced, stats.Duplicates)
	if n := ledger.Len(); n != 0 {
		fmt.Printf("[FAIL] %d ledger entries left behind: %v\n", n, ledger.Stale(0))
		os.Exit(1)
	}
	fmt.Println("[INFO] Mocknet dispatch test complete.")
}

// sendRaw writes bytes on a dispatch stream without encoding them.
func sendRaw(ctx context.Context, from libp2p_host.Host, to libp2p_host.Host, payload []byte) ([]byte, error) {
	stream, err := from.NewStream(ctx, to.ID(), network.ProtocolID)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	if _, err := stream.Write(payload); err != nil {
		return nil, err
	}
	if err := stream.CloseWrite(); err != nil {
		return nil, err
	}
	return io.ReadAll(stream)
}
