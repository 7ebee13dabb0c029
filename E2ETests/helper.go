package E2ETests

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/Tyooughtul/Vengine/internal/models"
)

func SendQuery(q models.Query, conn net.Conn, reader *bufio.Reader) error {
	data, _ := json.Marshal(q)
	_, err := conn.Write(append(data, '\n'))
	if err != nil {
		return err
	}
	_, err = reader.ReadBytes('\n')
	return err
}

func CreateVectorSpace(space string, dimension, workerThreads, kmeansMaxIter int, conn net.Conn, reader *bufio.Reader) bool {
	query := models.Query{
		Type:          models.TypeCreateSpace,
		Space:         space,
		EngineType:    "vector",
		Dimension:     dimension,
		WorkerThreads: workerThreads,
		KMeansMaxIter: kmeansMaxIter,
	}
	data, _ := json.Marshal(query)
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return false
	}
	resp, err := reader.ReadString('\n')
	if err != nil || !strings.Contains(resp, "SPACE_CREATED") {
		fmt.Println("Vector space creation failed. Server response:", strings.TrimSpace(resp))
		return false
	}
	return true
}

func CleanSpace(space string, conn net.Conn, reader *bufio.Reader) {
	query := models.Query{Type: models.TypeDeleteSpace, Data: space}
	data, _ := json.Marshal(query)
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return
	}
	reader.ReadString('\n')
}

func formatVec(vec []float32) string {
	out := ""
	for i, v := range vec {
		if i > 0 {
			out += ","
		}
		out += strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return out
}

func sendQueryAndGetResponse(q models.Query, conn net.Conn, reader *bufio.Reader) string {
	data, _ := json.Marshal(q)
	conn.Write(append(data, '\n'))
	resp, _ := reader.ReadString('\n')
	return resp
}
