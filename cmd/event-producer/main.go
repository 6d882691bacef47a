package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/spotclaim/internal/domain"
)

var handlePrefixes = []string{
	"skater", "rider", "diver", "climber", "runner", "surfer", "boarder", "flyer",
	"drifter", "jumper", "roller", "glider", "carver", "grinder", "flipper", "spinner",
}

var spotNames = []string{
	"Harbor Steps", "Old Mill Ledge", "Bridge Gap", "Library Rail", "Quarry Bowl",
	"Station Stairs", "Pier Drop", "Plaza Bank", "Canal Wall", "Tower Ramp",
}

func userID(idx int) string {
	return fmt.Sprintf("user-%04d", idx)
}

func handle(idx int) string {
	return fmt.Sprintf("%s%d", handlePrefixes[idx%len(handlePrefixes)], idx/len(handlePrefixes)+1)
}

func territoryID(idx int) string {
	return fmt.Sprintf("spot-%04d", idx)
}

type liveClip struct {
	id          string
	territoryID string
}

func main() {
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "spotclaim-events", "Kafka topic")
	territories := flag.Int("territories", 100, "Number of territories to create")
	users := flag.Int("users", 500, "Number of user profiles to create")
	clipsPerTerritory := flag.Int("clips", 3, "Initial clips per territory")
	eventsPerSecond := flag.Int("rate", 20, "Clip churn events per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	initialOnly := flag.Bool("initial-only", false, "Only create the initial world, no continuous churn")
	flag.Parse()

	brokerList := strings.Split(*brokers, ",")

	fmt.Println("Spot event producer")
	fmt.Printf("  Brokers:      %s\n", *brokers)
	fmt.Printf("  Topic:        %s\n", *topic)
	fmt.Printf("  Territories:  %d\n", *territories)
	fmt.Printf("  Users:        %d\n", *users)
	fmt.Printf("  Events/sec:   %d\n", *eventsPerSecond)
	fmt.Println()

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	// Events for one territory share a key and must stay in order
	config.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	shutdown := func(reason string) {
		fmt.Printf("\n%s, shutting down...\n", reason)
		close(done)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	send := func(key string, event domain.Event) {
		now := time.Now().UTC()
		event.OccurredAt = &now
		data, err := json.Marshal(event)
		if err != nil {
			log.Printf("Failed to marshal event: %v", err)
			return
		}

		msg := &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(key),
			Value: sarama.ByteEncoder(data),
		}

		select {
		case producer.Input() <- msg:
		case <-done:
		}
	}

	fmt.Printf("Creating %d profiles...\n", *users)
	for i := 0; i < *users; i++ {
		send(userID(i), domain.Event{
			Type:        domain.EventProfileUpserted,
			UserID:      userID(i),
			Handle:      handle(i),
			DisplayName: strings.ToUpper(handle(i)[:1]) + handle(i)[1:],
		})
	}

	fmt.Printf("Creating %d territories with %d clips each...\n", *territories, *clipsPerTerritory)
	var clips []liveClip
	newClip := func(tid string) {
		clip := liveClip{id: uuid.NewString(), territoryID: tid}
		send(tid, domain.Event{
			Type:        domain.EventClipCreated,
			ClipID:      clip.id,
			TerritoryID: tid,
			UserID:      userID(rand.Intn(*users)),
		})
		clips = append(clips, clip)
	}
	for i := 0; i < *territories; i++ {
		tid := territoryID(i)
		send(tid, domain.Event{
			Type:        domain.EventTerritoryCreated,
			TerritoryID: tid,
			Name:        fmt.Sprintf("%s #%d", spotNames[i%len(spotNames)], i/len(spotNames)+1),
		})
		for j := 0; j < *clipsPerTerritory; j++ {
			newClip(tid)
		}
	}
	fmt.Printf("Created %d clips\n\n", len(clips))

	if *initialOnly {
		shutdown("Initial-only mode")
		return
	}

	fmt.Println("Starting clip churn (75% uploads, 25% deletions). Press Ctrl+C to stop")

	interval := time.Second / time.Duration(*eventsPerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	var churnCount int64

	for {
		select {
		case <-sigChan:
			shutdown("Interrupted")
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				shutdown("Duration reached")
				return
			}

			if len(clips) > 0 && rand.Intn(100) < 25 {
				idx := rand.Intn(len(clips))
				clip := clips[idx]
				clips[idx] = clips[len(clips)-1]
				clips = clips[:len(clips)-1]
				send(clip.territoryID, domain.Event{Type: domain.EventClipDeleted, ClipID: clip.id})
			} else {
				newClip(territoryID(rand.Intn(*territories)))
			}
			atomic.AddInt64(&churnCount, 1)

		case <-statsTicker.C:
			fmt.Printf("[%s] Churn: %d | Live clips: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				atomic.LoadInt64(&churnCount),
				len(clips),
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}
