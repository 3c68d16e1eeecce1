package main

import (
	"os"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/rs/zerolog"

	"voter-ledger/chaincode"
	"voter-ledger/hashchain"
	"voter-ledger/logger"
)

func main() {
	log := logger.NewWithWriter(os.Stderr, int(zerolog.InfoLevel), "json", false)

	alg := hashchain.DefaultAlgorithm
	if name := os.Getenv("VOTELEDGER_HASH_ALGORITHM"); name != "" {
		parsed, err := hashchain.ParseAlgorithm(name)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid hash algorithm")
		}
		alg = parsed
	}

	cc, err := contractapi.NewChaincode(chaincode.NewVoteAuthContract(alg, log))
	if err != nil {
		log.Fatal().Err(err).Msg("error creating vote authentication chaincode")
	}

	if err := cc.Start(); err != nil {
		log.Fatal().Err(err).Msg("error starting vote authentication chaincode")
	}
}
